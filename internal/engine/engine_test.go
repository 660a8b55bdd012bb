package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/playgude2/stock-sentinel/internal/alerting"
	"github.com/playgude2/stock-sentinel/internal/config"
	"github.com/playgude2/stock-sentinel/internal/feed"
	"github.com/playgude2/stock-sentinel/internal/market"
	"github.com/playgude2/stock-sentinel/internal/storage"
	"github.com/playgude2/stock-sentinel/internal/window"
)

// Monday inside NSE-shaped hours, but pinned to UTC so the test does not
// depend on host tzdata.
var (
	cycleAt    = time.Date(2025, 3, 3, 11, 0, 0, 0, time.UTC)
	openWindow = time.Date(2025, 3, 3, 9, 16, 0, 0, time.UTC)
)

type fakeAlertRepo struct {
	mu       sync.Mutex
	alerts   []storage.Alert
	listErr  error
	trigErr  map[int64]error
	triggers []int64
	journal  *[]string
}

func (f *fakeAlertRepo) ListActiveAlerts(ctx context.Context) ([]storage.Alert, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]storage.Alert, len(f.alerts))
	copy(out, f.alerts)
	return out, nil
}

func (f *fakeAlertRepo) RecordTrigger(ctx context.Context, alertID int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.journal != nil {
		*f.journal = append(*f.journal, "record")
	}
	if err := f.trigErr[alertID]; err != nil {
		return err
	}
	f.triggers = append(f.triggers, alertID)
	return nil
}

type fakeEventStore struct {
	mu     sync.Mutex
	events []storage.AlertEvent
}

func (f *fakeEventStore) InsertAlertEvent(ctx context.Context, event storage.AlertEvent) (storage.AlertEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event.ID = int64(len(f.events) + 1)
	f.events = append(f.events, event)
	return event, nil
}

func (f *fakeEventStore) ListRecentEvents(ctx context.Context, limit int) ([]storage.AlertEvent, error) {
	return f.events, nil
}

type fakeSnapshotStore struct {
	mu        sync.Mutex
	inserted  []storage.Snapshot
	preloaded []storage.Snapshot
	deletedAt []time.Time
}

func (f *fakeSnapshotStore) InsertSnapshots(ctx context.Context, snapshots []storage.Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, snapshots...)
	return nil
}

func (f *fakeSnapshotStore) ListSnapshotsBetween(ctx context.Context, symbol string, from, to time.Time) ([]storage.Snapshot, error) {
	var out []storage.Snapshot
	for _, s := range f.preloaded {
		if s.Symbol == symbol && !s.TakenAt.Before(from) && !s.TakenAt.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeSnapshotStore) ListRecentSnapshots(ctx context.Context, symbol string, limit int) ([]storage.Snapshot, error) {
	return nil, nil
}

func (f *fakeSnapshotStore) DeleteSnapshotsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedAt = append(f.deletedAt, cutoff)
	return 0, nil
}

type fakeSource struct {
	mu     sync.Mutex
	quotes map[string]feed.Quote
	errs   map[string]error
	calls  map[string]int
}

func (f *fakeSource) set(symbol string, quote feed.Quote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.quotes == nil {
		f.quotes = make(map[string]feed.Quote)
	}
	f.quotes[symbol] = quote
}

func (f *fakeSource) Get(ctx context.Context, symbol string, now time.Time) (feed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[symbol]++
	if err := f.errs[symbol]; err != nil {
		return feed.Quote{}, err
	}
	return f.quotes[symbol], nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	sent    []alerting.Notification
	err     error
	journal *[]string
}

func (f *fakeNotifier) Notify(ctx context.Context, note alerting.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.journal != nil {
		*f.journal = append(*f.journal, "notify")
	}
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, note)
	return nil
}

func testCalendar(t *testing.T) *market.Calendar {
	t.Helper()
	cal, err := market.NewCalendar(config.MarketConfig{
		Open:              "09:15",
		Close:             "15:30",
		TradingDays:       []string{"Mon", "Tue", "Wed", "Thu", "Fri"},
		TimeZone:          "UTC",
		SessionOpenWindow: 5 * time.Minute,
	})
	require.NoError(t, err)
	return cal
}

func quoteFor(symbol string, price int64, at time.Time) feed.Quote {
	return feed.Quote{
		Symbol:    symbol,
		Ticker:    symbol + ".NS",
		Price:     decimal.NewFromInt(price),
		PrevClose: decimal.NewFromInt(1000),
		AsOf:      at,
	}
}

func windowAlert(id int64, symbol string, kind storage.Kind, threshold int64) storage.Alert {
	return storage.Alert{
		ID:               id,
		OwnerKey:         "+911234567890",
		Symbol:           symbol,
		Kind:             kind,
		WindowMinutes:    60,
		ThresholdPercent: decimal.NewFromInt(threshold),
		Active:           true,
	}
}

func newTestEngine(t *testing.T, repo *fakeAlertRepo, events *fakeEventStore, snaps *fakeSnapshotStore, source *fakeSource, tracker *window.Tracker, notifier alerting.Notifier) *Engine {
	t.Helper()
	return New(
		repo, events, snaps, nil,
		source, tracker, testCalendar(t), notifier,
		Options{
			Cooldown:          time.Hour,
			FetchConcurrency:  2,
			SnapshotRetention: 2 * time.Hour,
		},
		zerolog.Nop(),
	)
}

func TestRunCycleFiresWindowAlert(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "INFY", storage.KindDropWindow, 3),
	}}
	events := &fakeEventStore{}
	snaps := &fakeSnapshotStore{}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	// Window high 1000 set half an hour ago; current price 965 is a 3.5% drop.
	tracker.Observe("INFY", window.Observation{Price: decimal.NewFromInt(1000), At: cycleAt.Add(-30 * time.Minute)})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 965, cycleAt),
	}}

	eng := newTestEngine(t, repo, events, snaps, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	require.Len(t, notifier.sent, 1)
	note := notifier.sent[0]
	assert.Equal(t, int64(1), note.AlertID)
	assert.Equal(t, "INFY", note.Symbol)
	assert.Equal(t, "1000", note.RefPrice.String())
	assert.Equal(t, "-3.5", note.MovePercent.String())

	require.Len(t, repo.triggers, 1)
	require.Len(t, events.events, 1)
	assert.True(t, events.events[0].NotificationSent)
	require.Len(t, snaps.inserted, 1)
}

func TestRunCycleSymbolFailureIsIsolated(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "BROKEN", storage.KindDropWindow, 3),
		windowAlert(2, "INFY", storage.KindDropWindow, 3),
	}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})
	tracker.Observe("INFY", window.Observation{Price: decimal.NewFromInt(1000), At: cycleAt.Add(-30 * time.Minute)})

	source := &fakeSource{
		quotes: map[string]feed.Quote{"INFY": quoteFor("INFY", 960, cycleAt)},
		errs:   map[string]error{"BROKEN": errors.New("feed down")},
	}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	// The healthy symbol still fired despite the broken one.
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "INFY", notifier.sent[0].Symbol)
}

func TestRunCycleCooldownSuppressesRepeat(t *testing.T) {
	recent := cycleAt.Add(-10 * time.Minute)
	alert := windowAlert(1, "INFY", storage.KindDropWindow, 3)
	alert.LastTriggeredAt = &recent

	repo := &fakeAlertRepo{alerts: []storage.Alert{alert}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})
	tracker.Observe("INFY", window.Observation{Price: decimal.NewFromInt(1000), At: cycleAt.Add(-30 * time.Minute)})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 960, cycleAt),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	assert.Empty(t, notifier.sent, "alert inside cooldown must not notify")
	assert.Empty(t, repo.triggers, "suppressed alert must not record a trigger")
}

func TestRunCycleRecordsTriggerBeforeNotify(t *testing.T) {
	var journal []string
	repo := &fakeAlertRepo{
		alerts:  []storage.Alert{windowAlert(1, "INFY", storage.KindDropWindow, 3)},
		journal: &journal,
	}
	notifier := &fakeNotifier{journal: &journal}
	tracker := window.NewTracker([]time.Duration{time.Hour})
	tracker.Observe("INFY", window.Observation{Price: decimal.NewFromInt(1000), At: cycleAt.Add(-30 * time.Minute)})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 960, cycleAt),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	require.Equal(t, []string{"record", "notify"}, journal)
}

func TestRunCycleAlertGoneSkipsSend(t *testing.T) {
	repo := &fakeAlertRepo{
		alerts:  []storage.Alert{windowAlert(1, "INFY", storage.KindDropWindow, 3)},
		trigErr: map[int64]error{1: storage.ErrAlertGone},
	}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})
	tracker.Observe("INFY", window.Observation{Price: decimal.NewFromInt(1000), At: cycleAt.Add(-30 * time.Minute)})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 960, cycleAt),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	assert.Empty(t, notifier.sent, "a removed alert must not be delivered")
}

func TestRunCycleGapAlertOnlyInOpenWindow(t *testing.T) {
	alert := windowAlert(1, "INFY", storage.KindGapUp, 8)
	alert.WindowMinutes = 0

	repo := &fakeAlertRepo{alerts: []storage.Alert{alert}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	// 8% above the 1000 previous close.
	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 1080, openWindow),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)

	// Mid-session: gap kinds are out of scope.
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))
	assert.Empty(t, notifier.sent)

	// Inside the session-open window the gap fires.
	require.NoError(t, eng.RunCycle(context.Background(), openWindow))
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, storage.KindGapUp, notifier.sent[0].Kind)
	assert.Equal(t, "1000", notifier.sent[0].RefPrice.String())
}

func TestRunCycleGapAlertFiresOncePerSession(t *testing.T) {
	alert := windowAlert(1, "INFY", storage.KindGapUp, 8)
	alert.WindowMinutes = 0

	repo := &fakeAlertRepo{alerts: []storage.Alert{alert}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 1080, openWindow),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)

	require.NoError(t, eng.RunCycle(context.Background(), openWindow))
	require.NoError(t, eng.RunCycle(context.Background(), openWindow.Add(2*time.Minute)))
	assert.Len(t, notifier.sent, 1, "gap alert is a once-per-session event")

	// A new session gets a fresh evaluation.
	nextDay := openWindow.AddDate(0, 0, 1)
	require.NoError(t, eng.RunCycle(context.Background(), nextDay))
	assert.Len(t, notifier.sent, 2)
}

func TestRunCycleGapWaitsForUsableReference(t *testing.T) {
	alert := windowAlert(1, "INFY", storage.KindGapUp, 8)
	alert.WindowMinutes = 0

	repo := &fakeAlertRepo{alerts: []storage.Alert{alert}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	// The first open-window cycle carries no previous close, so no gap
	// baseline can be captured yet.
	broken := quoteFor("INFY", 1080, openWindow)
	broken.PrevClose = decimal.Zero
	source := &fakeSource{quotes: map[string]feed.Quote{"INFY": broken}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), openWindow))
	assert.Empty(t, notifier.sent, "no baseline yet, gap cannot be evaluated")

	// Two minutes later, still inside the open window, the feed recovers.
	// The gap must still get its one evaluation for the session.
	source.set("INFY", quoteFor("INFY", 1080, openWindow.Add(2*time.Minute)))
	require.NoError(t, eng.RunCycle(context.Background(), openWindow.Add(2*time.Minute)))
	require.Len(t, notifier.sent, 1, "reference arriving later in the open window must not lose the day's gap alert")
	assert.Equal(t, "1000", notifier.sent[0].RefPrice.String())

	// The slot is consumed by the successful evaluation.
	require.NoError(t, eng.RunCycle(context.Background(), openWindow.Add(3*time.Minute)))
	assert.Len(t, notifier.sent, 1)
}

func TestRunCycleSkipsOutsideTradingHours(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "INFY", storage.KindDropWindow, 3),
	}}
	source := &fakeSource{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, &fakeNotifier{})

	night := time.Date(2025, 3, 3, 2, 0, 0, 0, time.UTC)
	require.NoError(t, eng.RunCycle(context.Background(), night))
	assert.Empty(t, source.calls, "closed market must not touch the feed")
}

func TestRunCycleWindowNotEvaluableYet(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "INFY", storage.KindDropWindow, 3),
	}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 960, cycleAt),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	assert.Empty(t, notifier.sent, "empty window must not fire")
}

func TestRunCycleStaleQuoteNotPersisted(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "INFY", storage.KindDropWindow, 3),
	}}
	snaps := &fakeSnapshotStore{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	stale := quoteFor("INFY", 960, cycleAt.Add(-15*time.Minute))
	stale.Stale = true
	source := &fakeSource{quotes: map[string]feed.Quote{"INFY": stale}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, snaps, source, tracker, &fakeNotifier{})
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	assert.Empty(t, snaps.inserted, "stale fallback quotes must not be re-persisted")
	require.Len(t, snaps.deletedAt, 1)
	assert.Equal(t, cycleAt.Add(-2*time.Hour), snaps.deletedAt[0])
}

func TestWarmStartReplaysSnapshots(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "INFY", storage.KindDropWindow, 3),
	}}
	snaps := &fakeSnapshotStore{preloaded: []storage.Snapshot{
		{Symbol: "INFY", Price: decimal.NewFromInt(1000), TakenAt: cycleAt.Add(-40 * time.Minute)},
		{Symbol: "INFY", Price: decimal.NewFromInt(990), TakenAt: cycleAt.Add(-35 * time.Minute)},
	}}
	notifier := &fakeNotifier{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 960, cycleAt),
	}}

	eng := newTestEngine(t, repo, &fakeEventStore{}, snaps, source, tracker, notifier)
	require.NoError(t, eng.WarmStart(context.Background(), cycleAt))
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	// The replayed 1000 high makes the 4% drop fire immediately.
	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "1000", notifier.sent[0].RefPrice.String())
}

func TestRunCycleListFailureSkipsCycle(t *testing.T) {
	repo := &fakeAlertRepo{listErr: errors.New("db down")}
	source := &fakeSource{}
	tracker := window.NewTracker([]time.Duration{time.Hour})

	eng := newTestEngine(t, repo, &fakeEventStore{}, &fakeSnapshotStore{}, source, tracker, &fakeNotifier{})

	err := eng.RunCycle(context.Background(), cycleAt)
	require.Error(t, err)
	assert.Empty(t, source.calls)
}

func TestRunCycleNotificationFailureStillRecordsEvent(t *testing.T) {
	repo := &fakeAlertRepo{alerts: []storage.Alert{
		windowAlert(1, "INFY", storage.KindDropWindow, 3),
	}}
	events := &fakeEventStore{}
	notifier := &fakeNotifier{err: errors.New("channel down")}
	tracker := window.NewTracker([]time.Duration{time.Hour})
	tracker.Observe("INFY", window.Observation{Price: decimal.NewFromInt(1000), At: cycleAt.Add(-30 * time.Minute)})

	source := &fakeSource{quotes: map[string]feed.Quote{
		"INFY": quoteFor("INFY", 960, cycleAt),
	}}

	eng := newTestEngine(t, repo, events, &fakeSnapshotStore{}, source, tracker, notifier)
	require.NoError(t, eng.RunCycle(context.Background(), cycleAt))

	require.Len(t, events.events, 1)
	assert.False(t, events.events[0].NotificationSent)
	require.NotNil(t, events.events[0].Error)
	// Cooldown was recorded even though delivery failed.
	assert.Equal(t, []int64{1}, repo.triggers)
}
