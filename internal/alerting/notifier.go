package alerting

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playgude2/stock-sentinel/internal/storage"
)

// Notification carries the context of one fired alert.
type Notification struct {
	AlertID          int64
	OwnerKey         string
	Symbol           string
	Kind             storage.Kind
	WindowMinutes    int
	ThresholdPercent decimal.Decimal
	MovePercent      decimal.Decimal
	Price            decimal.Decimal
	RefPrice         decimal.Decimal
	ObservedAt       time.Time
}

// Notifier delivers alert notifications.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// KindLabel returns a human-readable description of the condition.
func (n Notification) KindLabel() string {
	switch n.Kind {
	case storage.KindGapUp:
		return "gap up at open"
	case storage.KindGapDown:
		return "gap down at open"
	case storage.KindDropWindow:
		return fmt.Sprintf("drop from %dm high", n.WindowMinutes)
	case storage.KindSpikeWindow:
		return fmt.Sprintf("spike from %dm low", n.WindowMinutes)
	default:
		return string(n.Kind)
	}
}

func renderMessage(note Notification) string {
	arrow := "⬆️"
	sign := "+"
	if note.MovePercent.IsNegative() {
		arrow = "⬇️"
		sign = ""
	}

	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("🚨 STOCK ALERT: %s\n\n", note.Symbol))
	builder.WriteString(fmt.Sprintf("Current Price: ₹%s\n", note.Price.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Reference: ₹%s\n", note.RefPrice.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Move: %s%s%% %s\n\n", sign, note.MovePercent.StringFixed(2), arrow))
	builder.WriteString(fmt.Sprintf("Alert: %s, %s%% threshold reached\n", note.KindLabel(), note.ThresholdPercent.StringFixed(1)))
	builder.WriteString(fmt.Sprintf("Alert ID: #%d\n", note.AlertID))
	builder.WriteString(fmt.Sprintf("Time: %s", note.ObservedAt.Format("2006-01-02 15:04 MST")))
	return builder.String()
}
