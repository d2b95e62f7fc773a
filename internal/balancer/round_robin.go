package balancer

import (
	"sync/atomic"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

const NameRoundRobin = "round_robin"

// RoundRobinSelector walks the Available list with an atomic cursor,
// modulo the list's current length. Reset zeroes the cursor, used when
// the registry wants a fresh rotation (e.g. after a config reload).
type RoundRobinSelector struct {
	counter uint64
}

func NewRoundRobinSelector() *RoundRobinSelector {
	return &RoundRobinSelector{}
}

func (s *RoundRobinSelector) Name() string {
	return NameRoundRobin
}

func (s *RoundRobinSelector) Select(entries []domain.Entry) (domain.Entry, bool) {
	if len(entries) == 0 {
		return domain.Entry{}, false
	}
	current := atomic.AddUint64(&s.counter, 1) - 1
	index := current % uint64(len(entries))
	return entries[index], true
}

func (s *RoundRobinSelector) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}
