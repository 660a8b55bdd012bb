package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/playgude2/stock-sentinel/internal/engine"
	"github.com/playgude2/stock-sentinel/internal/scheduler"
	"github.com/playgude2/stock-sentinel/internal/window"
)

// Run starts the evaluation loop and blocks until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	calendar, err := a.newCalendar()
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	tracker := window.NewTracker(a.cfg.Windows.Durations)
	cache := a.newCache(tracker)

	eng := engine.New(
		store, store, store, store,
		cache, tracker, calendar, notifier,
		engine.Options{
			Cooldown:          a.cfg.Alerting.Cooldown,
			FetchConcurrency:  a.cfg.Feed.Concurrency,
			SnapshotRetention: a.cfg.Snapshots.Retention,
			HardDeadline:      time.Duration(a.cfg.Scheduler.HardDeadlineFactor) * a.cfg.Scheduler.Interval,
			AdvisoryLockKey:   a.cfg.Scheduler.AdvisoryLockKey,
		},
		a.logger,
	)

	if err := eng.WarmStart(ctx, time.Now()); err != nil {
		a.logger.Warn().Err(err).Msg("warm start skipped, windows fill from live cycles")
	}

	a.logger.Info().
		Str("environment", a.cfg.App.Environment).
		Dur("interval", a.cfg.Scheduler.Interval).
		Strs("channels", a.cfg.Alerting.Channels).
		Msg("alert evaluation service starting")

	sched := scheduler.New(scheduler.Options{
		Interval:     a.cfg.Scheduler.Interval,
		AlignToStart: a.cfg.Scheduler.AlignToBucket,
		StartupDelay: a.cfg.Scheduler.StartupDelay,
	}, eng.RunCycle, a.logger)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Msg("alert evaluation service stopped")
	return nil
}
