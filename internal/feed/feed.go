package feed

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Quote is one price observation for a symbol as reported by the feed.
type Quote struct {
	Symbol    string
	Ticker    string
	Price     decimal.Decimal
	Open      decimal.Decimal
	PrevClose decimal.Decimal
	AsOf      time.Time
	Stale     bool
}

// RangePoint is one historical intraday price.
type RangePoint struct {
	Price decimal.Decimal
	At    time.Time
}

// QuoteFetcher retrieves the current quote for an exchange-qualified symbol.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)
}

// RangeFetcher retrieves historical intraday prices, used by backfill.
type RangeFetcher interface {
	FetchRange(ctx context.Context, symbol string, from, to time.Time, interval time.Duration) ([]RangePoint, error)
}
