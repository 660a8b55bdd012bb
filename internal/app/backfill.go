package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playgude2/stock-sentinel/internal/storage"
)

// BackfillOptions selects the historical range to load into snapshots.
type BackfillOptions struct {
	Symbol   string
	From     time.Time
	To       time.Time
	Interval time.Duration
	DryRun   bool
}

// Backfill pulls historical intraday prices from the feed and persists them
// as snapshots, so the rolling windows can warm from data older than the
// process. Existing snapshots at the same instant are left untouched.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if !opts.From.Before(opts.To) {
		return errors.New("from must be before to")
	}
	if opts.Interval <= 0 {
		opts.Interval = a.cfg.Scheduler.Interval
	}

	symbol := strings.ToUpper(strings.TrimSpace(opts.Symbol))
	yahoo := a.newFeed()

	points, err := yahoo.FetchRange(ctx, symbol, opts.From, opts.To, opts.Interval)
	if err != nil {
		return fmt.Errorf("fetch range for %s: %w", symbol, err)
	}
	if len(points) == 0 {
		a.logger.Info().Str("symbol", symbol).Msg("feed returned no points for range")
		return nil
	}

	if opts.DryRun {
		fmt.Printf("%s: %d points between %s and %s (dry run, nothing written)\n",
			symbol, len(points),
			points[0].At.Format(time.RFC3339),
			points[len(points)-1].At.Format(time.RFC3339),
		)
		return nil
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	ticker := yahoo.Normalize(symbol)
	snaps := make([]storage.Snapshot, 0, len(points))
	for _, p := range points {
		snaps = append(snaps, storage.Snapshot{
			Symbol:      symbol,
			Ticker:      ticker,
			Price:       p.Price,
			MarketPhase: "backfill",
			TakenAt:     p.At,
		})
	}

	if err := store.InsertSnapshots(ctx, snaps); err != nil {
		return fmt.Errorf("persist backfill for %s: %w", symbol, err)
	}

	a.logger.Info().Str("symbol", symbol).Int("points", len(snaps)).Msg("backfill completed")
	return nil
}
