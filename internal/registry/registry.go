// Package registry implements the Proxy Registry (C2) and the per-proxy
// stats/session pool (C4): the single source of truth for which upstream
// SOCKS5 proxies exist, what state each is in, and their request
// statistics and pooled HTTP clients.
package registry

import (
	"net/http"
	"sync"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/pkg/eventbus"
)

// Config bundles the tunables the registry needs beyond the proxy list
// itself, all sourced from the external configuration collaborator.
type Config struct {
	MaxRetries          int
	OverloadBackoffBase time.Duration
	MaxSessionPoolSize  int
	NewClient           func(domain.Descriptor) *http.Client
}

// Registry owns every proxyRecord plus the single selection lock that
// guards state transitions and the Available ordering, per §5's
// concurrency model. Selector invocation happens while the lock is held.
type Registry struct {
	mu        sync.Mutex
	records   map[string]*proxyRecord
	available []string // keys, insertion order; restoration prepends

	selector domain.Selector
	events   *eventbus.EventBus[StateChangeEvent]

	maxRetries          int
	overloadBackoffBase time.Duration
	maxSessionPoolSize  int
	newClient           func(domain.Descriptor) *http.Client

	now func() time.Time
}

func New(selector domain.Selector, cfg Config) *Registry {
	maxPool := cfg.MaxSessionPoolSize
	if maxPool <= 0 {
		maxPool = 20
	}
	backoff := cfg.OverloadBackoffBase
	if backoff <= 0 {
		backoff = 30 * time.Second
	}
	return &Registry{
		records:             make(map[string]*proxyRecord),
		selector:            selector,
		events:              eventbus.New[StateChangeEvent](),
		maxRetries:          cfg.MaxRetries,
		overloadBackoffBase: backoff,
		maxSessionPoolSize:  maxPool,
		newClient:           cfg.NewClient,
		now:                 time.Now,
	}
}

// Events exposes the registry's state-change event stream for
// subscribers (stats reporter, logger) without granting them any
// mutating access to the registry itself.
func (r *Registry) Events() *eventbus.EventBus[StateChangeEvent] {
	return r.events
}

// UpdateProxies replaces the descriptor set from a (re)loaded config.
// Descriptors that remain keep their existing stats/pool/state;
// descriptors no longer present are removed (pool drained; no event is
// published for a removal); new descriptors start Available. The selector is reset,
// matching the source's reload_algorithm/update_proxies behaviour.
func (r *Registry) UpdateProxies(descriptors []domain.Descriptor) {
	wanted := make(map[string]domain.Descriptor, len(descriptors))
	for _, d := range descriptors {
		wanted[d.Key()] = d
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rec := range r.records {
		if _, ok := wanted[key]; !ok {
			rec.drainPool()
			delete(r.records, key)
		}
	}

	for key, d := range wanted {
		if _, ok := r.records[key]; !ok {
			r.records[key] = newProxyRecord(d, r.maxSessionPoolSize)
		}
	}

	available := make([]string, 0, len(wanted))
	for key, rec := range r.records {
		if rec.state.Kind == domain.Available {
			available = append(available, key)
		}
	}
	r.available = available
	r.selector.Reset()
}

// GetNext selects and returns the next Available descriptor under the
// selection lock — exactly the pre-return block of the source's
// get_next_proxy, per Open Question resolution §9.
func (r *Registry) GetNext() (domain.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.available) == 0 {
		return domain.Descriptor{}, false
	}
	entries := make([]domain.Entry, len(r.available))
	for i, key := range r.available {
		entries[i] = domain.Entry{Key: key}
	}
	chosen, ok := r.selector.Select(entries)
	if !ok {
		return domain.Descriptor{}, false
	}
	rec, ok := r.records[chosen.Key]
	if !ok {
		return domain.Descriptor{}, false
	}
	return rec.descriptor, true
}

// AllDescriptors returns every tracked descriptor regardless of state.
func (r *Registry) AllDescriptors() []domain.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Descriptor, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.descriptor)
	}
	return out
}

// DescriptorByKey returns the descriptor tracked under key, if any.
func (r *Registry) DescriptorByKey(key string) (domain.Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[key]
	if !ok {
		return domain.Descriptor{}, false
	}
	return rec.descriptor, true
}

// AvailableCount returns the number of currently Available descriptors,
// used by the dispatcher to cap its retry loop.
func (r *Registry) AvailableCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.available)
}

// UnavailableKeys returns the keys currently Unavailable, for the health
// checker's fast-probe fan-out.
func (r *Registry) UnavailableKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0)
	for key, rec := range r.records {
		if rec.state.Kind == domain.Unavailable {
			out = append(out, key)
		}
	}
	return out
}

// AllKeys returns every tracked key, for the health checker's full sweep.
func (r *Registry) AllKeys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.records))
	for key := range r.records {
		out = append(out, key)
	}
	return out
}

// MarkSuccess resets the failure budget and restores the descriptor to
// Available if it wasn't already there.
func (r *Registry) MarkSuccess(key string) {
	r.withStats(key, func(s *domain.Stats) {
		s.Requests++
		s.Successes++
		s.Responses2xx3xx++
		s.ConsecutiveFailures = 0
	})
	r.restoreIfNeeded(key)
}

// MarkOtherStatus records a non-2xx/3xx, non-429 response. Per the
// resolved discrepancy against original_source/ (spec.md §7 is explicit
// and governs): such responses are relayed unchanged to the client but
// treated as success from the pool's perspective.
func (r *Registry) MarkOtherStatus(key string) {
	r.withStats(key, func(s *domain.Stats) {
		s.Requests++
		s.Successes++
		s.ResponsesOther++
		s.ConsecutiveFailures = 0
	})
	r.restoreIfNeeded(key)
}

// MarkFailure records a transport-level failure and demotes the
// descriptor to Unavailable once its consecutive-failure count reaches
// max_retries.
func (r *Registry) MarkFailure(key string) {
	var failures int
	r.withStats(key, func(s *domain.Stats) {
		s.Requests++
		s.Failures++
		s.ConsecutiveFailures++
		failures = s.ConsecutiveFailures
	})

	if r.maxRetries > 0 && failures >= r.maxRetries {
		r.transition(key, domain.Unavailable, 0, 0, 0)
	}
}

// MarkOverloaded records an observed HTTP 429 and withdraws the
// descriptor into Resting, extending overload_streak.
func (r *Registry) MarkOverloaded(key string) {
	var streak int
	r.withStats(key, func(s *domain.Stats) {
		s.Requests++
		s.Failures++
		s.Responses429++
		s.Overloads++
	})

	r.mu.Lock()
	rec, ok := r.records[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	streak = rec.state.OverloadStreak + 1
	restDuration := r.overloadBackoffBase * time.Duration(streak)
	until := r.now().Add(restDuration).Unix()
	r.mu.Unlock()

	r.transition(key, domain.Resting, until, domain.Overloaded, streak)
}

// ReleaseDueResting moves every Resting descriptor whose until has
// passed back to Available, keeping overload_streak (so the next 429
// extends the existing backoff rather than resetting it) and resetting
// consecutive_failures.
func (r *Registry) ReleaseDueResting() {
	now := r.now().Unix()

	r.mu.Lock()
	var due []string
	for key, rec := range r.records {
		if rec.state.Kind == domain.Resting && rec.state.RestUntil <= now {
			due = append(due, key)
		}
	}
	r.mu.Unlock()

	for _, key := range due {
		r.restoreKeepingStreak(key)
	}
}

// RestoreFromHealthProbe resets the failure count after a successful TCP
// probe and moves an Unavailable descriptor back to Available with a zero
// overload streak. Available and Resting descriptors keep their state; a
// Resting one stays Resting until its rest period has passed.
func (r *Registry) RestoreFromHealthProbe(key string) {
	r.withStats(key, func(s *domain.Stats) {
		s.ConsecutiveFailures = 0
	})
	r.mu.Lock()
	rec, ok := r.records[key]
	unavailable := ok && rec.state.Kind == domain.Unavailable
	r.mu.Unlock()
	if !unavailable {
		return
	}
	r.transition(key, domain.Available, 0, 0, 0)
}

// RecordHealthCheckFailure increments the observability-only counter; it
// never changes a descriptor's state (Open Question §9.3).
func (r *Registry) RecordHealthCheckFailure(key string) {
	r.withStats(key, func(s *domain.Stats) {
		s.HealthFailures++
	})
}

// restoreIfNeeded clears the overload streak on a successful/other-status
// request and restores the descriptor to Available if it wasn't already
// there. A successful request resets overload_streak to zero regardless
// of state, matching mark_success's reset_overload_count.
func (r *Registry) restoreIfNeeded(key string) {
	r.mu.Lock()
	rec, ok := r.records[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	if rec.state.Kind == domain.Available {
		rec.state.OverloadStreak = 0
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.transition(key, domain.Available, 0, 0, 0)
}

func (r *Registry) restoreKeepingStreak(key string) {
	r.mu.Lock()
	rec, ok := r.records[key]
	streak := 0
	if ok {
		streak = rec.state.OverloadStreak
	}
	r.mu.Unlock()

	r.withStats(key, func(s *domain.Stats) {
		s.ConsecutiveFailures = 0
	})
	r.transition(key, domain.Available, 0, 0, streak)
}

// transition moves the descriptor at key into the given state, updates
// the Available list accordingly (restoration prepends, per the
// invariant that it holds insertion order with restorations at the
// front), and publishes a StateChangeEvent when the state kind changed.
func (r *Registry) transition(key string, kind domain.StateKind, restUntil int64, reason domain.RestReason, overloadStreak int) {
	r.mu.Lock()
	rec, ok := r.records[key]
	if !ok {
		r.mu.Unlock()
		return
	}
	from := rec.state.Kind
	rec.state = domain.ProxyState{
		Kind:           kind,
		RestUntil:      restUntil,
		RestReason:     reason,
		OverloadStreak: overloadStreak,
	}

	r.removeFromAvailableLocked(key)
	if kind == domain.Available {
		r.available = append([]string{key}, r.available...)
	}
	selectorNeedsReset := from != kind
	r.mu.Unlock()

	if selectorNeedsReset {
		r.selector.Reset()
		r.publish(key, from, kind)
	}
}

func (r *Registry) removeFromAvailableLocked(key string) {
	for i, k := range r.available {
		if k == key {
			r.available = append(r.available[:i], r.available[i+1:]...)
			return
		}
	}
}

func (r *Registry) publish(key string, from, to domain.StateKind) {
	r.events.Publish(StateChangeEvent{Key: key, From: from, To: to})
}

func (r *Registry) withStats(key string, fn func(*domain.Stats)) {
	r.mu.Lock()
	rec, ok := r.records[key]
	r.mu.Unlock()
	if !ok {
		return
	}
	rec.statsMu.Lock()
	fn(&rec.stats)
	rec.statsMu.Unlock()
}

// BorrowClient returns a pooled HTTP client for key, creating one via
// the configured factory if the pool is currently empty. Ownership
// passes to the caller until ReturnClient is called.
func (r *Registry) BorrowClient(key string) (*http.Client, bool) {
	r.mu.Lock()
	rec, ok := r.records[key]
	r.mu.Unlock()
	if !ok {
		return nil, false
	}

	if client, ok := rec.borrowClient(); ok {
		return client, true
	}
	if r.newClient == nil {
		return nil, false
	}
	return r.newClient(rec.descriptor), true
}

// ReturnClient returns client to key's pool, closing it if the pool is
// already full.
func (r *Registry) ReturnClient(key string, client *http.Client) {
	r.mu.Lock()
	rec, ok := r.records[key]
	r.mu.Unlock()
	if !ok {
		closeClient(client)
		return
	}
	rec.returnClient(client)
}

// Snapshot returns the pool-wide statistics snapshot for the console
// reporter and the /internal/stats endpoint.
func (r *Registry) Snapshot() domain.AggregateSnapshot {
	r.mu.Lock()
	recs := make([]*proxyRecord, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
	}
	r.mu.Unlock()

	agg := domain.AggregateSnapshot{Proxies: make([]domain.Snapshot, 0, len(recs))}
	for _, rec := range recs {
		s := rec.snapshot()
		agg.Proxies = append(agg.Proxies, s)
		agg.TotalRequests += s.Requests
		agg.TotalSuccesses += s.Successes
		agg.TotalFailures += s.Failures
	}
	return agg
}
