package balancer

import (
	"log/slog"
	"strings"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

// Factory maps a configured algorithm name to a domain.Selector. Lookup
// is case-insensitive; an unknown name falls back to Random with a
// logged warning rather than failing startup.
type Factory struct {
	creators map[string]func() domain.Selector
	logger   *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	f := &Factory{
		creators: make(map[string]func() domain.Selector),
		logger:   logger,
	}
	f.Register(NameRandom, func() domain.Selector { return NewRandomSelector() })
	f.Register(NameRoundRobin, func() domain.Selector { return NewRoundRobinSelector() })
	return f
}

func (f *Factory) Register(name string, creator func() domain.Selector) {
	f.creators[strings.ToLower(name)] = creator
}

// Create returns the selector registered under name, falling back to
// Random with a warning when name is unrecognised.
func (f *Factory) Create(name string) domain.Selector {
	creator, ok := f.creators[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		if f.logger != nil {
			f.logger.Warn("unknown load_balancing_algorithm, falling back to random", "configured", name)
		}
		return NewRandomSelector()
	}
	return creator()
}
