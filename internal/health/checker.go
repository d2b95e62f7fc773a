// Package health implements the Health Checker (C5): a single background
// worker that releases resting proxies, fast-probes unavailable ones, and
// periodically sweeps the whole pool.
package health

import (
	"context"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

const (
	fastProbeFanOut = 10
	fullSweepFanOut = 20
	probeTimeout    = 2 * time.Second
)

// registry is the subset of *registry.Registry the checker depends on,
// kept narrow so this package never imports net/http or the session pool.
type registry interface {
	ReleaseDueResting()
	UnavailableKeys() []string
	AllKeys() []string
	DescriptorByKey(key string) (domain.Descriptor, bool)
	RestoreFromHealthProbe(key string)
	RecordHealthCheckFailure(key string)
}

// Prober dials a proxy's SOCKS port with a short timeout, standing in
// for the source's "treat as healthy if TCP connect succeeds" check.
type Prober func(ctx context.Context, d domain.Descriptor, timeout time.Duration) bool

// DialProber is the default Prober: a bare TCP connect, no SOCKS5
// handshake, matching original_source/proxy_load_balancer/
// proxy_balancer.py's _test_proxy_health.
func DialProber(ctx context.Context, d domain.Descriptor, timeout time.Duration) bool {
	var dialer net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", d.Key())
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Checker runs the single ticking loop described by §4.5.
type Checker struct {
	registry          registry
	prober            Prober
	logger            *slog.Logger
	tickInterval      time.Duration
	fullSweepInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewChecker(reg registry, prober Prober, logger *slog.Logger, healthCheckInterval, restCheckInterval time.Duration) *Checker {
	if prober == nil {
		prober = DialProber
	}
	tick := healthCheckInterval
	if restCheckInterval > 0 && restCheckInterval < tick {
		tick = restCheckInterval
	}
	if tick <= 0 {
		tick = time.Second
	}
	return &Checker{
		registry:          reg,
		prober:            prober,
		logger:            logger,
		tickInterval:      tick,
		fullSweepInterval: healthCheckInterval,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
}

// Start runs the ticking loop in its own goroutine until Stop is called.
func (c *Checker) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop signals the loop to exit and waits up to 5s for it to join.
func (c *Checker) Stop() {
	close(c.stop)
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
	}
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	var lastFullSweep time.Time

	for {
		select {
		case <-c.stop:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.registry.ReleaseDueResting()
			c.fastProbeUnavailable(ctx)

			if lastFullSweep.IsZero() || now.Sub(lastFullSweep) >= c.fullSweepInterval {
				c.fullSweep(ctx)
				lastFullSweep = now
			}
		}
	}
}

func (c *Checker) fastProbeUnavailable(ctx context.Context) {
	keys := c.registry.UnavailableKeys()
	if len(keys) == 0 {
		return
	}
	c.probeFanOut(ctx, keys, fastProbeFanOut, func(key string, healthy bool) {
		if healthy {
			c.logger.Info("proxy health restored", "proxy", key)
			c.registry.RestoreFromHealthProbe(key)
		}
	})
}

func (c *Checker) fullSweep(ctx context.Context) {
	keys := c.registry.AllKeys()
	if len(keys) == 0 {
		return
	}
	c.probeFanOut(ctx, keys, fullSweepFanOut, func(key string, healthy bool) {
		if healthy {
			c.registry.RestoreFromHealthProbe(key)
			return
		}
		// Health-check failure never demotes Available directly (Open
		// Question §9.3); only the observability counter moves.
		c.registry.RecordHealthCheckFailure(key)
	})
}

func (c *Checker) probeFanOut(ctx context.Context, keys []string, limit int, onResult func(key string, healthy bool)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	type result struct {
		key     string
		healthy bool
	}
	results := make(chan result, len(keys))

	for _, key := range keys {
		key := key
		g.Go(func() error {
			d, ok := c.registry.DescriptorByKey(key)
			if !ok {
				return nil
			}
			healthy := c.prober(gctx, d, probeTimeout)
			results <- result{key: key, healthy: healthy}
			return nil
		})
	}

	go func() {
		g.Wait()
		close(results)
	}()

	for r := range results {
		onResult(r.key, r.healthy)
	}
}
