package balancer

import (
	"math/rand/v2"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

const NameRandom = "random"

// RandomSelector picks a uniformly random entry on every call. Reset is
// a no-op: there is no cursor state to clear.
type RandomSelector struct{}

func NewRandomSelector() *RandomSelector {
	return &RandomSelector{}
}

func (s *RandomSelector) Name() string {
	return NameRandom
}

func (s *RandomSelector) Select(entries []domain.Entry) (domain.Entry, bool) {
	if len(entries) == 0 {
		return domain.Entry{}, false
	}
	return entries[rand.IntN(len(entries))], true
}

func (s *RandomSelector) Reset() {}
