package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunFiresSequentialTicks(t *testing.T) {
	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())

	s := New(Options{Interval: 20 * time.Millisecond}, func(ctx context.Context, at time.Time) error {
		if atomic.AddInt32(&ticks, 1) >= 3 {
			cancel()
		}
		return nil
	}, zerolog.Nop())

	err := s.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Fatalf("ticks = %d, want at least 3", got)
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	s := New(Options{}, func(ctx context.Context, at time.Time) error { return nil }, zerolog.Nop())
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("zero interval must be rejected")
	}
}

func TestRunStopsDuringStartupDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var ticks int32
	s := New(Options{Interval: time.Second, StartupDelay: time.Minute}, func(ctx context.Context, at time.Time) error {
		atomic.AddInt32(&ticks, 1)
		return nil
	}, zerolog.Nop())

	err := s.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run returned %v, want deadline exceeded", err)
	}
	if atomic.LoadInt32(&ticks) != 0 {
		t.Fatal("no tick may fire before the startup delay elapses")
	}
}

func TestTickErrorDoesNotStopTheLoop(t *testing.T) {
	var ticks int32
	ctx, cancel := context.WithCancel(context.Background())

	s := New(Options{Interval: 10 * time.Millisecond}, func(ctx context.Context, at time.Time) error {
		if atomic.AddInt32(&ticks, 1) >= 3 {
			cancel()
		}
		return errors.New("cycle failed")
	}, zerolog.Nop())

	_ = s.Run(ctx)
	if got := atomic.LoadInt32(&ticks); got < 3 {
		t.Fatalf("loop stopped after an error: %d ticks", got)
	}
}
