package pipeline

import (
	"testing"
	"time"
)

func TestGateNoPersonNeverAllows(t *testing.T) {
	gate := NewCooldownGate(5 * time.Second)
	now := time.Now()

	for i := 0; i < 100; i++ {
		if gate.Allow(false, now.Add(time.Duration(i)*time.Second)) {
			t.Fatalf("allow fired with no person present at step %d", i)
		}
	}
	if gate.Cooling(now) {
		t.Fatal("gate entered cooldown without ever allowing")
	}
}

func TestGateStampsOnAllow(t *testing.T) {
	cooldown := 5 * time.Second
	gate := NewCooldownGate(cooldown)
	start := time.Now()

	if !gate.Allow(true, start) {
		t.Fatal("first detection should always be allowed")
	}
	if gate.Allow(true, start.Add(cooldown-time.Millisecond)) {
		t.Fatal("allow fired just before the cooldown elapsed")
	}
	if !gate.Allow(true, start.Add(cooldown)) {
		t.Fatal("allow denied at exactly the cooldown boundary")
	}
}

func TestGateLevelTriggered(t *testing.T) {
	// A person standing in frame for 12 seconds at 1 fps should trip
	// the gate three times with a 5 second cooldown: t=0, t=5, t=10.
	gate := NewCooldownGate(5 * time.Second)
	start := time.Now()

	allows := 0
	for i := 0; i <= 12; i++ {
		if gate.Allow(true, start.Add(time.Duration(i)*time.Second)) {
			allows++
		}
	}
	if allows != 3 {
		t.Fatalf("expected 3 allows over 12s of continuous presence, got %d", allows)
	}
}

func TestGateCooling(t *testing.T) {
	cooldown := 5 * time.Second
	gate := NewCooldownGate(cooldown)
	start := time.Now()

	if gate.Cooling(start) {
		t.Fatal("fresh gate must not report cooling")
	}
	gate.Allow(true, start)
	if !gate.Cooling(start.Add(time.Second)) {
		t.Fatal("gate must report cooling inside the window")
	}
	if gate.Cooling(start.Add(cooldown)) {
		t.Fatal("gate must leave cooldown once the window elapses")
	}
}
