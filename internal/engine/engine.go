package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/playgude2/stock-sentinel/internal/alerting"
	"github.com/playgude2/stock-sentinel/internal/feed"
	"github.com/playgude2/stock-sentinel/internal/market"
	"github.com/playgude2/stock-sentinel/internal/storage"
	"github.com/playgude2/stock-sentinel/internal/window"
)

// QuoteSource is the price cache boundary the cycle fetches through.
type QuoteSource interface {
	Get(ctx context.Context, symbol string, now time.Time) (feed.Quote, error)
}

// WindowObserver bridges successful cache fetches into the rolling windows.
type WindowObserver struct {
	Tracker *window.Tracker
}

// QuoteFetched appends a fresh observation to the symbol's windows.
func (o WindowObserver) QuoteFetched(q feed.Quote) {
	o.Tracker.Observe(q.Symbol, window.Observation{Price: q.Price, At: q.AsOf})
}

// Options tune cycle behaviour.
type Options struct {
	Cooldown          time.Duration
	FetchConcurrency  int
	SnapshotRetention time.Duration
	HardDeadline      time.Duration
	AdvisoryLockKey   int64
}

// Engine runs evaluation cycles: gate on the market calendar, fetch one
// quote per distinct symbol, evaluate every alert on that symbol, and
// dispatch notification intents through the cooldown gate. All state the
// engine mutates (windows, session references) is owned exclusively by it;
// cycles are serialized by the scheduler so no cross-cycle locking is needed.
type Engine struct {
	alerts    storage.AlertRepository
	events    storage.EventStore
	snapshots storage.SnapshotStore
	locker    storage.AdvisoryLocker
	source    QuoteSource
	tracker   *window.Tracker
	calendar  *market.Calendar
	notifier  alerting.Notifier
	gate      CooldownGate
	opts      Options
	logger    zerolog.Logger

	refs       *sessionRefs
	gapChecked map[int64]string
}

// New constructs the engine. events, snapshots, locker, and notifier may be
// nil; the corresponding side effects are skipped.
func New(
	alerts storage.AlertRepository,
	events storage.EventStore,
	snapshots storage.SnapshotStore,
	locker storage.AdvisoryLocker,
	source QuoteSource,
	tracker *window.Tracker,
	calendar *market.Calendar,
	notifier alerting.Notifier,
	opts Options,
	logger zerolog.Logger,
) *Engine {
	if opts.FetchConcurrency <= 0 {
		opts.FetchConcurrency = 4
	}
	return &Engine{
		alerts:     alerts,
		events:     events,
		snapshots:  snapshots,
		locker:     locker,
		source:     source,
		tracker:    tracker,
		calendar:   calendar,
		notifier:   notifier,
		gate:       NewCooldownGate(opts.Cooldown),
		opts:       opts,
		logger:     logger.With().Str("component", "engine").Logger(),
		refs:       newSessionRefs(),
		gapChecked: make(map[int64]string),
	}
}

type fetchResult struct {
	quote feed.Quote
	err   error
}

type cycleStats struct {
	symbols   int
	fetched   int
	failed    int
	evaluated int
	fired     int
	sent      int
}

// WarmStart replays persisted snapshots into the rolling windows so a
// restart does not blind the window conditions for up to two hours.
func (e *Engine) WarmStart(ctx context.Context, now time.Time) error {
	if e.snapshots == nil {
		return nil
	}

	alerts, err := e.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return fmt.Errorf("warm start: %w", err)
	}

	maxDur := e.tracker.MaxDuration()
	loaded := 0
	for _, symbol := range distinctSymbols(alerts) {
		snaps, listErr := e.snapshots.ListSnapshotsBetween(ctx, symbol, now.Add(-maxDur), now)
		if listErr != nil {
			e.logger.Warn().Err(listErr).Str("symbol", symbol).Msg("warm start: snapshot load failed")
			continue
		}
		for _, snap := range snaps {
			e.tracker.Observe(symbol, window.Observation{Price: snap.Price, At: snap.TakenAt})
			loaded++
		}
	}

	e.logger.Info().Int("observations", loaded).Msg("rolling windows warmed from snapshots")
	return nil
}

// RunCycle executes one evaluation pass at the given instant. Errors returned
// here mean the whole cycle was skipped (listing failure); per-symbol and
// per-alert problems are contained and logged.
func (e *Engine) RunCycle(ctx context.Context, now time.Time) error {
	unlock, proceed, err := e.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		e.logger.Debug().Time("at", now).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if e.opts.HardDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.HardDeadline)
		defer cancel()
	}

	// Gating: outside trading hours the cycle costs nothing.
	if !e.calendar.IsTradingNow(now) {
		e.logger.Debug().
			Time("at", now).
			Time("next_open", e.calendar.NextOpen(now)).
			Msg("market closed, skipping cycle")
		return nil
	}

	alerts, err := e.alerts.ListActiveAlerts(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("alert listing failed, cycle skipped")
		return fmt.Errorf("list active alerts: %w", err)
	}

	bySymbol := groupBySymbol(alerts)
	symbols := sortedKeys(bySymbol)
	e.tracker.Retain(symbols)

	if len(symbols) == 0 {
		e.logger.Debug().Msg("no active alerts")
		return nil
	}

	stats := cycleStats{symbols: len(symbols)}
	results := e.fetchQuotes(ctx, symbols, now)

	e.persistSnapshots(ctx, symbols, results, now)

	sessionDate := e.calendar.SessionDate(now)
	e.refs.Prune(sessionDate)
	e.pruneGapChecked(sessionDate)
	inOpenWindow := e.calendar.IsSessionOpenWindow(now)

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			e.logger.Warn().Err(ctx.Err()).Msg("cycle deadline exceeded, abandoning remaining symbols")
			break
		}

		res := results[symbol]
		if res.err != nil {
			stats.failed++
			e.logger.Warn().Err(res.err).Str("symbol", symbol).Msg("price unavailable, symbol skipped this cycle")
			continue
		}
		stats.fetched++

		if inOpenWindow {
			e.refs.Capture(symbol, sessionDate, res.quote.PrevClose, now)
		}

		for _, alert := range bySymbol[symbol] {
			e.evaluateAlert(ctx, alert, res.quote, now, sessionDate, inOpenWindow, &stats)
		}
	}

	e.logger.Info().
		Time("at", now).
		Int("symbols", stats.symbols).
		Int("fetched", stats.fetched).
		Int("failed", stats.failed).
		Int("evaluated", stats.evaluated).
		Int("fired", stats.fired).
		Int("sent", stats.sent).
		Msg("evaluation cycle completed")
	return nil
}

func (e *Engine) fetchQuotes(ctx context.Context, symbols []string, now time.Time) map[string]fetchResult {
	results := make(map[string]fetchResult, len(symbols))
	var mu sync.Mutex

	workers := e.opts.FetchConcurrency
	if workers > len(symbols) {
		workers = len(symbols)
	}

	jobs := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				quote, err := e.source.Get(ctx, symbol, now)
				mu.Lock()
				results[symbol] = fetchResult{quote: quote, err: err}
				mu.Unlock()
			}
		}()
	}

	for _, symbol := range symbols {
		jobs <- symbol
	}
	close(jobs)
	wg.Wait()

	return results
}

func (e *Engine) persistSnapshots(ctx context.Context, symbols []string, results map[string]fetchResult, now time.Time) {
	if e.snapshots == nil {
		return
	}

	phase := e.calendar.Phase(now)
	snaps := make([]storage.Snapshot, 0, len(symbols))
	for _, symbol := range symbols {
		res := results[symbol]
		if res.err != nil || res.quote.Stale {
			continue
		}
		snaps = append(snaps, storage.Snapshot{
			Symbol:      symbol,
			Ticker:      res.quote.Ticker,
			Price:       res.quote.Price,
			Open:        res.quote.Open,
			PrevClose:   res.quote.PrevClose,
			MarketPhase: phase,
			TakenAt:     res.quote.AsOf,
		})
	}

	if err := e.snapshots.InsertSnapshots(ctx, snaps); err != nil {
		e.logger.Warn().Err(err).Msg("snapshot persistence failed")
	}

	if e.opts.SnapshotRetention > 0 {
		deleted, err := e.snapshots.DeleteSnapshotsBefore(ctx, now.Add(-e.opts.SnapshotRetention))
		if err != nil {
			e.logger.Warn().Err(err).Msg("snapshot pruning failed")
		} else if deleted > 0 {
			e.logger.Debug().Int64("deleted", deleted).Msg("pruned expired snapshots")
		}
	}
}

func (e *Engine) evaluateAlert(ctx context.Context, alert storage.Alert, quote feed.Quote, now time.Time, sessionDate string, inOpenWindow bool, stats *cycleStats) {
	ref, ok := e.referenceFor(alert, sessionDate, inOpenWindow, now)
	if !ok {
		return
	}
	stats.evaluated++

	result := Evaluate(alert.Kind, alert.ThresholdPercent, quote.Price, ref)
	if !result.Fired {
		e.logger.Debug().
			Int64("alert_id", alert.ID).
			Str("symbol", alert.Symbol).
			Str("kind", string(alert.Kind)).
			Str("move_pct", result.MovePercent.StringFixed(2)).
			Msg("condition not met")
		return
	}
	stats.fired++

	if !e.gate.Allow(alert.LastTriggeredAt, now) {
		e.logger.Debug().
			Int64("alert_id", alert.ID).
			Str("symbol", alert.Symbol).
			Dur("cooldown_left", e.gate.Remaining(alert.LastTriggeredAt, now)).
			Msg("alert suppressed by cooldown")
		return
	}

	// The cooldown record is committed before delivery; a redelivery after a
	// crash is preferred over a double-fire, a lost write over a lost alert.
	if err := e.alerts.RecordTrigger(ctx, alert.ID, now); err != nil {
		if errors.Is(err, storage.ErrAlertGone) {
			e.logger.Info().Int64("alert_id", alert.ID).Msg("alert removed since listing, intent dropped")
			return
		}
		e.logger.Warn().Err(err).
			Int64("alert_id", alert.ID).
			Msg("cooldown not durably recorded, duplicate notification possible next cycle")
	}

	note := alerting.Notification{
		AlertID:          alert.ID,
		OwnerKey:         alert.OwnerKey,
		Symbol:           alert.Symbol,
		Kind:             alert.Kind,
		WindowMinutes:    alert.WindowMinutes,
		ThresholdPercent: alert.ThresholdPercent,
		MovePercent:      result.MovePercent,
		Price:            quote.Price,
		RefPrice:         ref,
		ObservedAt:       now,
	}

	var sendErr error
	if e.notifier != nil {
		sendErr = e.notifier.Notify(ctx, note)
	}
	if sendErr != nil {
		e.logger.Error().Err(sendErr).
			Int64("alert_id", alert.ID).
			Str("symbol", alert.Symbol).
			Msg("notification delivery failed")
	} else {
		stats.sent++
		e.logger.Info().
			Int64("alert_id", alert.ID).
			Str("symbol", alert.Symbol).
			Str("kind", string(alert.Kind)).
			Str("move_pct", result.MovePercent.StringFixed(2)).
			Str("price", quote.Price.StringFixed(2)).
			Msg("alert notification dispatched")
	}

	e.recordEvent(ctx, note, sendErr)
}

// referenceFor resolves the comparison baseline for an alert, or reports the
// condition as not evaluable this cycle.
func (e *Engine) referenceFor(alert storage.Alert, sessionDate string, inOpenWindow bool, now time.Time) (ref decimal.Decimal, ok bool) {
	switch {
	case alert.Kind.IsGap():
		// Gap conditions are an open-of-day event: evaluated only inside the
		// session-open window, and at most once per session per alert.
		if !inOpenWindow {
			return ref, false
		}
		if e.gapChecked[alert.ID] == sessionDate {
			return ref, false
		}

		// The once-per-session slot is consumed only when a usable reference
		// exists; a cycle without one leaves the gap evaluable for the rest
		// of the open window.
		price, found := e.refs.Ref(alert.Symbol, sessionDate)
		if !found {
			return ref, false
		}
		e.gapChecked[alert.ID] = sessionDate
		return price, true

	case alert.Kind.IsWindow():
		hl, err := e.tracker.HighLowAt(alert.Symbol, alert.WindowDuration(), now)
		if err != nil {
			if errors.Is(err, window.ErrNoData) {
				e.logger.Debug().
					Int64("alert_id", alert.ID).
					Str("symbol", alert.Symbol).
					Msg("rolling window empty, condition not evaluable yet")
				return ref, false
			}
			e.logger.Warn().Err(err).Int64("alert_id", alert.ID).Msg("window query failed")
			return ref, false
		}
		if alert.Kind == storage.KindDropWindow {
			return hl.High, true
		}
		return hl.Low, true

	default:
		e.logger.Warn().
			Int64("alert_id", alert.ID).
			Str("kind", string(alert.Kind)).
			Msg("unknown alert kind, skipped")
		return ref, false
	}
}

func (e *Engine) recordEvent(ctx context.Context, note alerting.Notification, sendErr error) {
	if e.events == nil {
		return
	}

	event := storage.AlertEvent{
		AlertID:          note.AlertID,
		OwnerKey:         note.OwnerKey,
		Symbol:           note.Symbol,
		Kind:             note.Kind,
		ThresholdPercent: note.ThresholdPercent,
		MovePercent:      note.MovePercent,
		Price:            note.Price,
		RefPrice:         note.RefPrice,
		NotificationSent: sendErr == nil,
		TriggeredAt:      note.ObservedAt,
	}
	if sendErr != nil {
		msg := sendErr.Error()
		event.Error = &msg
	}

	if _, err := e.events.InsertAlertEvent(ctx, event); err != nil {
		e.logger.Warn().Err(err).Int64("alert_id", note.AlertID).Msg("alert event not recorded")
	}
}

func (e *Engine) acquireLock(ctx context.Context) (func(), bool, error) {
	if e.opts.AdvisoryLockKey == 0 || e.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := e.locker.TryAdvisoryLock(ctx, e.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func (e *Engine) pruneGapChecked(sessionDate string) {
	for id, date := range e.gapChecked {
		if date != sessionDate {
			delete(e.gapChecked, id)
		}
	}
}

func groupBySymbol(alerts []storage.Alert) map[string][]storage.Alert {
	grouped := make(map[string][]storage.Alert)
	for _, alert := range alerts {
		symbol := strings.ToUpper(strings.TrimSpace(alert.Symbol))
		if symbol == "" {
			continue
		}
		alert.Symbol = symbol
		grouped[symbol] = append(grouped[symbol], alert)
	}
	return grouped
}

func distinctSymbols(alerts []storage.Alert) []string {
	return sortedKeys(groupBySymbol(alerts))
}

func sortedKeys(m map[string][]storage.Alert) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
