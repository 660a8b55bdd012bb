package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc is invoked once per interval with the wall-clock instant the tick
// fired at. Ticks are strictly sequential: a run that overlaps the next
// boundary delays that tick rather than spawning a concurrent one.
type TickFunc func(ctx context.Context, at time.Time) error

type Options struct {
	Interval     time.Duration
	AlignToStart bool
	StartupDelay time.Duration
}

type Scheduler struct {
	opts   Options
	fn     TickFunc
	logger zerolog.Logger
}

func New(opts Options, fn TickFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts,
		fn:     fn,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// Run blocks until the context is cancelled, firing ticks on the configured
// cadence. The first tick fires immediately after the optional startup delay
// and boundary alignment.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.opts.Interval <= 0 {
		return errors.New("scheduler: interval must be positive")
	}

	if s.opts.StartupDelay > 0 {
		if err := sleepCtx(ctx, s.opts.StartupDelay); err != nil {
			return err
		}
	}

	if s.opts.AlignToStart {
		now := time.Now()
		next := now.Truncate(s.opts.Interval).Add(s.opts.Interval)
		s.logger.Debug().Time("aligned_start", next).Msg("aligning first tick to interval boundary")
		if err := sleepCtx(ctx, next.Sub(now)); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	s.logger.Info().Dur("interval", s.opts.Interval).Msg("scheduler started")
	s.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scheduler stopped")
			return ctx.Err()
		case at := <-ticker.C:
			s.tick(ctx, at)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, at time.Time) {
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	if err := s.fn(ctx, at); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error().Err(err).Time("at", at).Msg("tick failed")
	}

	if elapsed := time.Since(start); elapsed > s.opts.Interval {
		s.logger.Warn().
			Dur("elapsed", elapsed).
			Dur("interval", s.opts.Interval).
			Msg("tick overran interval, next tick delayed")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
