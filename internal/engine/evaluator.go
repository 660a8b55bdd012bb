package engine

import (
	"github.com/shopspring/decimal"

	"github.com/playgude2/stock-sentinel/internal/storage"
)

var dec100 = decimal.NewFromInt(100)

// Result is the outcome of one condition evaluation.
type Result struct {
	Fired       bool
	MovePercent decimal.Decimal
}

// Evaluate checks one alert condition. ref is the session reference for gap
// kinds and the window extreme (high for drops, low for spikes) for window
// kinds. Pure: identical inputs always yield identical results.
//
// Boundaries are inclusive: a price landing exactly on the threshold-adjusted
// reference fires. The comparison is done against the adjusted reference
// rather than the computed percentage, so no division rounding can flip a
// boundary case.
func Evaluate(kind storage.Kind, thresholdPercent, price, ref decimal.Decimal) Result {
	if ref.IsZero() || price.IsZero() || !thresholdPercent.IsPositive() {
		return Result{}
	}

	fraction := thresholdPercent.Div(dec100)
	move := price.Sub(ref).Div(ref).Mul(dec100)

	var fired bool
	switch kind {
	case storage.KindGapUp, storage.KindSpikeWindow:
		limit := ref.Mul(decimal.NewFromInt(1).Add(fraction))
		fired = price.GreaterThanOrEqual(limit)
	case storage.KindGapDown, storage.KindDropWindow:
		limit := ref.Mul(decimal.NewFromInt(1).Sub(fraction))
		fired = price.LessThanOrEqual(limit)
	default:
		return Result{}
	}

	return Result{Fired: fired, MovePercent: move}
}
