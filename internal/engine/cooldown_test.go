package engine

import (
	"testing"
	"time"
)

func TestCooldownGate(t *testing.T) {
	gate := NewCooldownGate(time.Hour)
	now := time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)

	if !gate.Allow(nil, now) {
		t.Fatal("never-triggered alert must be allowed")
	}

	half := now.Add(-30 * time.Minute)
	if gate.Allow(&half, now) {
		t.Fatal("alert inside cooldown must be suppressed")
	}
	if got := gate.Remaining(&half, now); got != 30*time.Minute {
		t.Fatalf("remaining = %s, want 30m", got)
	}

	exact := now.Add(-time.Hour)
	if !gate.Allow(&exact, now) {
		t.Fatal("alert exactly at cooldown expiry must be allowed")
	}
	if got := gate.Remaining(&exact, now); got != 0 {
		t.Fatalf("remaining at expiry = %s, want 0", got)
	}
}

func TestCooldownGateZeroDuration(t *testing.T) {
	gate := NewCooldownGate(0)
	now := time.Now()
	prev := now.Add(-time.Second)

	if !gate.Allow(&prev, now) {
		t.Fatal("zero cooldown must always allow")
	}
}
