package balancer

import (
	"testing"

	"github.com/EvgeniiDev/proxy-load-balancer-sub000/internal/domain"
)

func entries(keys ...string) []domain.Entry {
	out := make([]domain.Entry, len(keys))
	for i, k := range keys {
		out[i] = domain.Entry{Key: k}
	}
	return out
}

func TestRoundRobinSelector_Empty(t *testing.T) {
	s := NewRoundRobinSelector()
	if _, ok := s.Select(nil); ok {
		t.Fatal("expected no selection from an empty list")
	}
}

func TestRoundRobinSelector_Exactness(t *testing.T) {
	s := NewRoundRobinSelector()
	list := entries("a:1", "b:1", "c:1")

	got := make([]string, 0, 9)
	for i := 0; i < 9; i++ {
		e, ok := s.Select(list)
		if !ok {
			t.Fatalf("iteration %d: expected a selection", i)
		}
		got = append(got, e.Key)
	}

	want := []string{"a:1", "b:1", "c:1", "a:1", "b:1", "c:1", "a:1", "b:1", "c:1"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRoundRobinSelector_Reset(t *testing.T) {
	s := NewRoundRobinSelector()
	list := entries("a:1", "b:1")

	s.Select(list)
	s.Select(list)
	s.Reset()

	e, ok := s.Select(list)
	if !ok || e.Key != "a:1" {
		t.Fatalf("after reset expected first entry a:1, got %+v ok=%v", e, ok)
	}
}

func TestRoundRobinSelector_ListShrinkIsSafe(t *testing.T) {
	s := NewRoundRobinSelector()
	big := entries("a:1", "b:1", "c:1", "d:1")
	for i := 0; i < 4; i++ {
		s.Select(big)
	}
	small := entries("a:1", "b:1")
	if _, ok := s.Select(small); !ok {
		t.Fatal("expected a valid selection against a shorter list")
	}
}
