package registry

import "github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"

// StateChangeEvent is published on pkg/eventbus whenever a descriptor
// transitions between Available/Unavailable/Resting, so the stats
// reporter and logger can observe transitions without the registry
// holding an upward reference to them.
type StateChangeEvent struct {
	Key  string
	From domain.StateKind
	To   domain.StateKind
}
