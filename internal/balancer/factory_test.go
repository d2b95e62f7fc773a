package balancer

import "testing"

func TestFactory_CaseInsensitiveLookup(t *testing.T) {
	f := NewFactory(nil)

	if f.Create("ROUND_ROBIN").Name() != NameRoundRobin {
		t.Fatal("expected case-insensitive match for round_robin")
	}
	if f.Create("Random").Name() != NameRandom {
		t.Fatal("expected case-insensitive match for random")
	}
}

func TestFactory_UnknownFallsBackToRandom(t *testing.T) {
	f := NewFactory(nil)

	s := f.Create("least_connections")
	if s.Name() != NameRandom {
		t.Fatalf("expected fallback to random, got %s", s.Name())
	}
}
