package storage

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of supported alert conditions.
type Kind string

const (
	KindGapUp       Kind = "gap_up"
	KindGapDown     Kind = "gap_down"
	KindDropWindow  Kind = "drop_window"
	KindSpikeWindow Kind = "spike_window"
)

// ParseKind validates a kind read from storage or CLI flags.
func ParseKind(v string) (Kind, error) {
	switch Kind(v) {
	case KindGapUp, KindGapDown, KindDropWindow, KindSpikeWindow:
		return Kind(v), nil
	default:
		return "", fmt.Errorf("unknown alert kind %q", v)
	}
}

// IsGap reports whether the kind is evaluated against the session reference.
func (k Kind) IsGap() bool {
	return k == KindGapUp || k == KindGapDown
}

// IsWindow reports whether the kind is evaluated against a rolling window.
func (k Kind) IsWindow() bool {
	return k == KindDropWindow || k == KindSpikeWindow
}

// Alert is the engine's read-mostly copy of a user alert definition.
// The alert store owns the row; the engine writes back only LastTriggeredAt.
type Alert struct {
	ID               int64
	OwnerKey         string
	Symbol           string
	Kind             Kind
	WindowMinutes    int
	ThresholdPercent decimal.Decimal
	Active           bool
	CreatedAt        time.Time
	LastTriggeredAt  *time.Time
}

// WindowDuration returns the rolling-window length for window kinds.
func (a Alert) WindowDuration() time.Duration {
	return time.Duration(a.WindowMinutes) * time.Minute
}

// AlertEvent records one notification attempt for auditing.
type AlertEvent struct {
	ID               int64
	AlertID          int64
	OwnerKey         string
	Symbol           string
	Kind             Kind
	ThresholdPercent decimal.Decimal
	MovePercent      decimal.Decimal
	Price            decimal.Decimal
	RefPrice         decimal.Decimal
	NotificationSent bool
	Error            *string
	TriggeredAt      time.Time
}

// Snapshot is one persisted intraday price observation. Snapshots feed the
// rolling windows across restarts and power show/export/backfill.
type Snapshot struct {
	ID          int64
	Symbol      string
	Ticker      string
	Price       decimal.Decimal
	Open        decimal.Decimal
	PrevClose   decimal.Decimal
	MarketPhase string
	TakenAt     time.Time
	CreatedAt   time.Time
}
