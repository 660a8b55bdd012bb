package window

import (
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoData indicates an empty rolling window. Callers treat this as
// "condition not evaluable yet", not as a user-facing failure.
var ErrNoData = errors.New("window: no observations")

// Observation is one price point inside a rolling window.
type Observation struct {
	Price decimal.Decimal
	At    time.Time
}

// HighLow are the extremes of a window at query time.
type HighLow struct {
	High decimal.Decimal
	Low  decimal.Decimal
}

type windowKey struct {
	symbol   string
	duration time.Duration
}

// Tracker maintains per-(symbol, duration) rolling price windows.
// Windows are created lazily on first observation and discarded once a
// symbol is no longer retained.
type Tracker struct {
	mu        sync.Mutex
	durations []time.Duration
	windows   map[windowKey][]Observation
}

// NewTracker builds a Tracker covering the given durations.
func NewTracker(durations []time.Duration) *Tracker {
	ds := make([]time.Duration, 0, len(durations))
	for _, d := range durations {
		if d > 0 {
			ds = append(ds, d)
		}
	}
	return &Tracker{
		durations: ds,
		windows:   make(map[windowKey][]Observation),
	}
}

// Durations lists the tracked window durations.
func (t *Tracker) Durations() []time.Duration {
	out := make([]time.Duration, len(t.durations))
	copy(out, t.durations)
	return out
}

// MaxDuration returns the longest tracked duration.
func (t *Tracker) MaxDuration() time.Duration {
	var max time.Duration
	for _, d := range t.durations {
		if d > max {
			max = d
		}
	}
	return max
}

// Observe appends obs to every configured window for symbol. Observations
// whose timestamp does not advance past the last recorded one are dropped to
// keep each window monotonically ordered.
func (t *Tracker) Observe(symbol string, obs Observation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, d := range t.durations {
		key := windowKey{symbol: symbol, duration: d}
		entries := t.windows[key]
		if n := len(entries); n > 0 && !obs.At.After(entries[n-1].At) {
			continue
		}
		t.windows[key] = append(entries, obs)
	}
}

// HighLowAt evicts observations older than duration relative to now, then
// returns the window extremes among observations at or before now.
func (t *Tracker) HighLowAt(symbol string, duration time.Duration, now time.Time) (HighLow, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := windowKey{symbol: symbol, duration: duration}
	entries := t.windows[key]

	cutoff := now.Add(-duration)
	start := 0
	for start < len(entries) && entries[start].At.Before(cutoff) {
		start++
	}
	if start > 0 {
		entries = append([]Observation(nil), entries[start:]...)
		if len(entries) == 0 {
			delete(t.windows, key)
		} else {
			t.windows[key] = entries
		}
	}

	var hl HighLow
	found := false
	for _, e := range entries {
		if e.At.After(now) {
			break
		}
		if !found {
			hl.High, hl.Low = e.Price, e.Price
			found = true
			continue
		}
		if e.Price.GreaterThan(hl.High) {
			hl.High = e.Price
		}
		if e.Price.LessThan(hl.Low) {
			hl.Low = e.Price
		}
	}
	if !found {
		return HighLow{}, ErrNoData
	}
	return hl, nil
}

// Retain discards window state for any symbol not in keep, bounding memory
// once alerts are removed.
func (t *Tracker) Retain(keep []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set := make(map[string]bool, len(keep))
	for _, s := range keep {
		set[s] = true
	}
	for key := range t.windows {
		if !set[key.symbol] {
			delete(t.windows, key)
		}
	}
}

// Len reports the observation count for one (symbol, duration) window.
func (t *Tracker) Len(symbol string, duration time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.windows[windowKey{symbol: symbol, duration: duration}])
}
