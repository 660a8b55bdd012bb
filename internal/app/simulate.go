package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/playgude2/stock-sentinel/internal/alerting"
	"github.com/playgude2/stock-sentinel/internal/engine"
	"github.com/playgude2/stock-sentinel/internal/storage"
)

// SimulateRequest describes one ad-hoc condition evaluation.
type SimulateRequest struct {
	Symbol           string
	Kind             string
	ThresholdPercent decimal.Decimal
	// RefPrice overrides the baseline; zero means use the feed's previous
	// close for gap kinds. Window kinds require an explicit reference since
	// no rolling history exists in a one-shot run.
	RefPrice decimal.Decimal
	// Price overrides the live quote; zero means fetch.
	Price  decimal.Decimal
	Notify bool
}

// Simulate evaluates a condition against the live quote and prints the
// outcome. With Notify set, a firing condition goes through the configured
// channels exactly as the engine would send it.
func (a *App) Simulate(ctx context.Context, req SimulateRequest) error {
	kind, err := storage.ParseKind(req.Kind)
	if err != nil {
		return err
	}
	if !req.ThresholdPercent.IsPositive() {
		return fmt.Errorf("threshold must be greater than zero")
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	price := req.Price
	ref := req.RefPrice

	if price.IsZero() || (ref.IsZero() && kind.IsGap()) {
		quote, fetchErr := a.newFeed().FetchQuote(ctx, symbol)
		if fetchErr != nil {
			return fmt.Errorf("fetch quote for %s: %w", symbol, fetchErr)
		}
		if price.IsZero() {
			price = quote.Price
		}
		if ref.IsZero() && kind.IsGap() {
			ref = quote.PrevClose
		}
	}
	if ref.IsZero() {
		return fmt.Errorf("kind %s needs an explicit reference price", kind)
	}

	result := engine.Evaluate(kind, req.ThresholdPercent, price, ref)

	verdict := "would NOT fire"
	if result.Fired {
		verdict = "would FIRE"
	}
	fmt.Printf("%s %s: price %s vs reference %s, move %s%% against threshold %s%% -> %s\n",
		symbol, kind,
		price.StringFixed(2), ref.StringFixed(2),
		result.MovePercent.StringFixed(2), req.ThresholdPercent.StringFixed(2),
		verdict,
	)

	if !result.Fired || !req.Notify {
		return nil
	}

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return fmt.Errorf("no notification channels configured")
	}

	return notifier.Notify(ctx, alerting.Notification{
		Symbol:           symbol,
		Kind:             kind,
		ThresholdPercent: req.ThresholdPercent,
		MovePercent:      result.MovePercent,
		Price:            price,
		RefPrice:         ref,
		ObservedAt:       time.Now(),
	})
}
