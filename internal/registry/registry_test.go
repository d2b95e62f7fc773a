package registry

import (
	"net/http"
	"testing"
	"time"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/balancer"
	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

func testDescriptors() []domain.Descriptor {
	return []domain.Descriptor{
		{Host: "10.0.0.1", Port: 1080},
		{Host: "10.0.0.2", Port: 1080},
		{Host: "10.0.0.3", Port: 1080},
	}
}

func newTestRegistry(maxRetries int) *Registry {
	r := New(balancer.NewRoundRobinSelector(), Config{
		MaxRetries:          maxRetries,
		OverloadBackoffBase: time.Second,
		MaxSessionPoolSize:  5,
	})
	r.UpdateProxies(testDescriptors())
	return r
}

func TestRegistry_GetNext_ExhaustsRoundRobin(t *testing.T) {
	r := newTestRegistry(3)
	seen := map[string]bool{}
	for i := 0; i < 3; i++ {
		d, ok := r.GetNext()
		if !ok {
			t.Fatalf("expected a descriptor at iteration %d", i)
		}
		seen[d.Key()] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected all 3 proxies selected once, got %d distinct", len(seen))
	}
}

func TestRegistry_MarkFailure_DemotesAfterMaxRetries(t *testing.T) {
	r := newTestRegistry(2)
	key := "10.0.0.1:1080"

	r.MarkFailure(key)
	if contains(r.UnavailableKeys(), key) {
		t.Fatal("should not be unavailable after a single failure")
	}
	r.MarkFailure(key)
	if !contains(r.UnavailableKeys(), key) {
		t.Fatal("expected demotion to unavailable after max_retries consecutive failures")
	}

	snap := r.Snapshot()
	found := false
	for _, s := range snap.Proxies {
		if s.Key == key {
			found = true
			if s.State != domain.Unavailable {
				t.Fatalf("expected state Unavailable, got %v", s.State)
			}
		}
	}
	if !found {
		t.Fatal("expected snapshot entry for demoted proxy")
	}
}

func TestRegistry_MarkSuccess_ResetsConsecutiveFailures(t *testing.T) {
	r := newTestRegistry(5)
	key := "10.0.0.1:1080"

	r.MarkFailure(key)
	r.MarkFailure(key)
	r.MarkSuccess(key)

	for _, s := range r.Snapshot().Proxies {
		if s.Key == key && s.ConsecutiveFailures != 0 {
			t.Fatalf("expected ConsecutiveFailures reset to 0, got %d", s.ConsecutiveFailures)
		}
	}
}

func TestRegistry_MarkOverloaded_EntersRestingAndExtendsStreak(t *testing.T) {
	r := newTestRegistry(5)
	key := "10.0.0.1:1080"

	r.MarkOverloaded(key)
	var first, second domain.Snapshot
	for _, s := range r.Snapshot().Proxies {
		if s.Key == key {
			first = s
		}
	}
	if first.State != domain.Resting {
		t.Fatalf("expected Resting, got %v", first.State)
	}

	// Release it manually (simulating ReleaseDueResting firing) then
	// overload again — streak should have grown, not reset.
	r.restoreKeepingStreak(key)
	r.MarkOverloaded(key)
	for _, s := range r.Snapshot().Proxies {
		if s.Key == key {
			second = s
		}
	}
	if second.RestUntil <= first.RestUntil {
		t.Fatalf("expected the second backoff window to be longer (monotonic overload_streak), got first=%d second=%d", first.RestUntil, second.RestUntil)
	}
}

func TestRegistry_MarkSuccess_ResetsOverloadStreak(t *testing.T) {
	r := newTestRegistry(5)
	r.now = func() time.Time { return time.Unix(1000, 0) }
	key := "10.0.0.1:1080"

	r.MarkOverloaded(key)
	r.restoreKeepingStreak(key)
	r.MarkOverloaded(key)
	var rested domain.Snapshot
	for _, s := range r.Snapshot().Proxies {
		if s.Key == key {
			rested = s
		}
	}
	restedWindow := rested.RestUntil - 1000

	r.restoreKeepingStreak(key)
	r.MarkSuccess(key)

	for _, s := range r.Snapshot().Proxies {
		if s.Key != key {
			continue
		}
		if s.State != domain.Available {
			t.Fatalf("expected Available after success, got %v", s.State)
		}
	}

	r.MarkOverloaded(key)
	var afterSuccess domain.Snapshot
	for _, s := range r.Snapshot().Proxies {
		if s.Key == key {
			afterSuccess = s
		}
	}
	freshWindow := afterSuccess.RestUntil - 1000

	if freshWindow >= restedWindow {
		t.Fatalf("expected overload_streak reset by MarkSuccess to shrink the next backoff window, got fresh=%d rested=%d", freshWindow, restedWindow)
	}
	if freshWindow != 1 {
		t.Fatalf("expected a single-streak 1s backoff window after reset, got %d", freshWindow)
	}
}

func TestRegistry_MarkSuccess_ResetsOverloadStreakWhenAlreadyAvailable(t *testing.T) {
	r := newTestRegistry(5)
	r.now = func() time.Time { return time.Unix(1000, 0) }
	key := "10.0.0.1:1080"

	r.MarkOverloaded(key)
	r.restoreKeepingStreak(key) // back to Available, streak still 1

	r.MarkSuccess(key) // proxy is already Available here

	r.MarkOverloaded(key)
	var s domain.Snapshot
	for _, snap := range r.Snapshot().Proxies {
		if snap.Key == key {
			s = snap
		}
	}
	if window := s.RestUntil - 1000; window != 1 {
		t.Fatalf("expected MarkSuccess to reset overload_streak even while already Available, got window=%d", window)
	}
}

func TestRegistry_ReleaseDueResting(t *testing.T) {
	r := newTestRegistry(5)
	r.now = func() time.Time { return time.Unix(1000, 0) }
	key := "10.0.0.1:1080"

	r.MarkOverloaded(key)
	if contains(availableKeys(r), key) {
		t.Fatal("should not be available while resting")
	}

	r.now = func() time.Time { return time.Unix(1000+3600, 0) }
	r.ReleaseDueResting()
	if !contains(availableKeys(r), key) {
		t.Fatal("expected resting proxy released once its window elapsed")
	}
}

func TestRegistry_RestoreFromHealthProbe_RestoresUnavailable(t *testing.T) {
	r := newTestRegistry(5)
	key := "10.0.0.1:1080"

	r.MarkFailure(key)
	r.MarkFailure(key)
	r.MarkFailure(key)
	r.MarkFailure(key)
	r.MarkFailure(key) // demote to Unavailable

	r.RestoreFromHealthProbe(key)
	for _, s := range r.Snapshot().Proxies {
		if s.Key == key {
			if s.State != domain.Available {
				t.Fatalf("expected Available after probe restoration, got %v", s.State)
			}
			if s.ConsecutiveFailures != 0 {
				t.Fatalf("expected ConsecutiveFailures reset, got %d", s.ConsecutiveFailures)
			}
		}
	}
}

func TestRegistry_UpdateProxies_DropsRemoved(t *testing.T) {
	r := newTestRegistry(5)
	r.UpdateProxies([]domain.Descriptor{{Host: "10.0.0.1", Port: 1080}})

	all := r.AllDescriptors()
	if len(all) != 1 {
		t.Fatalf("expected exactly 1 descriptor after shrinking config, got %d", len(all))
	}
}

func TestRegistry_SessionPool_BorrowReturn(t *testing.T) {
	calls := 0
	r := New(balancer.NewRandomSelector(), Config{
		MaxRetries:         3,
		MaxSessionPoolSize: 1,
		NewClient: func(d domain.Descriptor) *http.Client {
			calls++
			return &http.Client{}
		},
	})
	r.UpdateProxies(testDescriptors())
	key := "10.0.0.1:1080"

	c1, ok := r.BorrowClient(key)
	if !ok || c1 == nil {
		t.Fatal("expected a client to be created on first borrow")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one factory call, got %d", calls)
	}

	r.ReturnClient(key, c1)
	c2, ok := r.BorrowClient(key)
	if !ok || c2 != c1 {
		t.Fatal("expected the returned client to be reused rather than a new one created")
	}
	if calls != 1 {
		t.Fatalf("expected no additional factory call on reuse, got %d calls", calls)
	}
}

func contains(list []string, key string) bool {
	for _, k := range list {
		if k == key {
			return true
		}
	}
	return false
}

func availableKeys(r *Registry) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.available))
	copy(out, r.available)
	return out
}
