package balancer

import "testing"

func TestRandomSelector_Empty(t *testing.T) {
	s := NewRandomSelector()
	if _, ok := s.Select(nil); ok {
		t.Fatal("expected no selection from an empty list")
	}
}

func TestRandomSelector_Coverage(t *testing.T) {
	s := NewRandomSelector()
	list := entries("a:1", "b:1", "c:1")

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		e, ok := s.Select(list)
		if !ok {
			t.Fatalf("iteration %d: expected a selection", i)
		}
		seen[e.Key] = true
	}

	for _, k := range []string{"a:1", "b:1", "c:1"} {
		if !seen[k] {
			t.Fatalf("expected %s to be selected at least once across 500 draws", k)
		}
	}
}
