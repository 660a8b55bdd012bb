package alerting

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// MultiNotifier fans a notification out to every configured channel. A
// notification counts as delivered when at least one channel accepted it;
// partial channel failures are logged, not escalated.
type MultiNotifier struct {
	channels []Notifier
	logger   zerolog.Logger
}

// NewMultiNotifier wraps the given channels.
func NewMultiNotifier(channels []Notifier, logger zerolog.Logger) *MultiNotifier {
	return &MultiNotifier{
		channels: channels,
		logger:   logger.With().Str("component", "alert_multi").Logger(),
	}
}

// Notify delivers to all channels.
func (n *MultiNotifier) Notify(ctx context.Context, note Notification) error {
	if len(n.channels) == 0 {
		return errors.New("no notification channels configured")
	}

	var errs []error
	delivered := 0
	for _, ch := range n.channels {
		if err := ch.Notify(ctx, note); err != nil {
			errs = append(errs, err)
			n.logger.Warn().Err(err).
				Int64("alert_id", note.AlertID).
				Str("symbol", note.Symbol).
				Msg("notification channel failed")
			continue
		}
		delivered++
	}

	if delivered == 0 {
		return errors.Join(errs...)
	}
	return nil
}

var _ Notifier = (*MultiNotifier)(nil)
