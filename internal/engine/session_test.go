package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSessionRefsCaptureIsFirstWins(t *testing.T) {
	refs := newSessionRefs()
	at := time.Date(2025, 3, 3, 9, 16, 0, 0, time.UTC)

	refs.Capture("INFY", "2025-03-03", dec("1500"), at)
	refs.Capture("INFY", "2025-03-03", dec("1510"), at.Add(time.Minute))

	got, ok := refs.Ref("INFY", "2025-03-03")
	if !ok {
		t.Fatal("reference should exist")
	}
	if !got.Equal(dec("1500")) {
		t.Fatalf("ref = %s, want the first capture 1500", got)
	}
}

func TestSessionRefsNewDayReplacesOld(t *testing.T) {
	refs := newSessionRefs()
	at := time.Now()

	refs.Capture("INFY", "2025-03-03", dec("1500"), at)
	refs.Capture("INFY", "2025-03-04", dec("1520"), at)

	if _, ok := refs.Ref("INFY", "2025-03-03"); ok {
		t.Fatal("previous session's reference must not survive a new capture")
	}
	got, ok := refs.Ref("INFY", "2025-03-04")
	if !ok || !got.Equal(dec("1520")) {
		t.Fatalf("ref = %s ok=%v, want 1520", got, ok)
	}
}

func TestSessionRefsIgnoresZeroPrice(t *testing.T) {
	refs := newSessionRefs()
	refs.Capture("INFY", "2025-03-03", decimal.Zero, time.Now())

	if _, ok := refs.Ref("INFY", "2025-03-03"); ok {
		t.Fatal("zero price must not be captured as a reference")
	}
}

func TestSessionRefsPrune(t *testing.T) {
	refs := newSessionRefs()
	at := time.Now()

	refs.Capture("INFY", "2025-03-03", dec("1500"), at)
	refs.Capture("TCS", "2025-03-04", dec("3500"), at)

	refs.Prune("2025-03-04")

	if _, ok := refs.Ref("INFY", "2025-03-03"); ok {
		t.Fatal("stale reference should be pruned")
	}
	if _, ok := refs.Ref("TCS", "2025-03-04"); !ok {
		t.Fatal("current session reference should survive pruning")
	}
}
