package registry

import (
	"net/http"
	"sync"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

// proxyRecord bundles everything the registry tracks for one descriptor:
// its mutable state (guarded by the registry's single selection lock, per
// §5's three-lock policy), its stats (its own lock), and its session pool
// (its own lock, never held while closing a client).
type proxyRecord struct {
	descriptor domain.Descriptor
	state      domain.ProxyState // guarded by Registry.mu

	statsMu sync.Mutex
	stats   domain.Stats

	poolMu      sync.Mutex
	pool        []*http.Client
	maxPoolSize int
}

func newProxyRecord(d domain.Descriptor, maxPoolSize int) *proxyRecord {
	return &proxyRecord{
		descriptor:  d,
		state:       domain.NewAvailableState(),
		maxPoolSize: maxPoolSize,
	}
}

func (r *proxyRecord) snapshot() domain.Snapshot {
	r.statsMu.Lock()
	s := r.stats
	r.statsMu.Unlock()

	r.poolMu.Lock()
	pooled := len(r.pool)
	r.poolMu.Unlock()

	return domain.Snapshot{
		Key:                 r.descriptor.Key(),
		Requests:            s.Requests,
		Successes:           s.Successes,
		Failures:            s.Failures,
		Overloads:           s.Overloads,
		Responses2xx3xx:     s.Responses2xx3xx,
		Responses429:        s.Responses429,
		ResponsesOther:      s.ResponsesOther,
		ConsecutiveFailures: s.ConsecutiveFailures,
		HealthFailures:      s.HealthFailures,
		SessionsPooled:      pooled,
		State:               r.state.Kind,
		RestUntil:           r.state.RestUntil,
	}
}

// borrowClient returns a pooled client if one is available.
func (r *proxyRecord) borrowClient() (*http.Client, bool) {
	r.poolMu.Lock()
	defer r.poolMu.Unlock()
	n := len(r.pool)
	if n == 0 {
		return nil, false
	}
	client := r.pool[n-1]
	r.pool = r.pool[:n-1]
	return client, true
}

// returnClient puts client back in the pool, closing it instead when the
// pool is already at capacity.
func (r *proxyRecord) returnClient(client *http.Client) {
	r.poolMu.Lock()
	full := len(r.pool) >= r.maxPoolSize
	if !full {
		r.pool = append(r.pool, client)
	}
	r.poolMu.Unlock()

	if full {
		closeClient(client)
	}
}

// drainPool closes every pooled client, used when a descriptor is
// removed from the registry.
func (r *proxyRecord) drainPool() {
	r.poolMu.Lock()
	clients := r.pool
	r.pool = nil
	r.poolMu.Unlock()

	for _, c := range clients {
		closeClient(c)
	}
}

func closeClient(client *http.Client) {
	if t, ok := client.Transport.(interface{ CloseIdleConnections() }); ok {
		t.CloseIdleConnections()
	}
}
