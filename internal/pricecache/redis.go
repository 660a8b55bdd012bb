package pricecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/playgude2/stock-sentinel/internal/feed"
)

// Slow-tier keys outlive SlowTTL on purpose: an aged entry is still the
// fallback when the feed is down. Retention just bounds key growth.
const slowTierRetention = 24 * time.Hour

// RedisTier stores quotes as JSON in redis, keyed per symbol.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier wraps a redis client as the slow cache tier.
func NewRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = "stocksentinel"
	}
	return &RedisTier{client: client, prefix: prefix}
}

type quoteRecord struct {
	Symbol    string          `json:"symbol"`
	Ticker    string          `json:"ticker"`
	Price     decimal.Decimal `json:"price"`
	Open      decimal.Decimal `json:"open"`
	PrevClose decimal.Decimal `json:"prev_close"`
	AsOf      time.Time       `json:"as_of"`
}

func (r *RedisTier) key(symbol string) string {
	return fmt.Sprintf("%s:quote:%s", r.prefix, symbol)
}

// Get reads a cached quote; ok=false on a clean miss.
func (r *RedisTier) Get(ctx context.Context, symbol string) (feed.Quote, bool, error) {
	payload, err := r.client.Get(ctx, r.key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return feed.Quote{}, false, nil
	}
	if err != nil {
		return feed.Quote{}, false, fmt.Errorf("redis get %s: %w", symbol, err)
	}

	var record quoteRecord
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return feed.Quote{}, false, fmt.Errorf("decode cached quote %s: %w", symbol, err)
	}

	return feed.Quote{
		Symbol:    record.Symbol,
		Ticker:    record.Ticker,
		Price:     record.Price,
		Open:      record.Open,
		PrevClose: record.PrevClose,
		AsOf:      record.AsOf,
	}, true, nil
}

// Set writes a quote with the long retention expiry.
func (r *RedisTier) Set(ctx context.Context, quote feed.Quote) error {
	record := quoteRecord{
		Symbol:    quote.Symbol,
		Ticker:    quote.Ticker,
		Price:     quote.Price,
		Open:      quote.Open,
		PrevClose: quote.PrevClose,
		AsOf:      quote.AsOf,
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode quote %s: %w", quote.Symbol, err)
	}
	if err := r.client.Set(ctx, r.key(quote.Symbol), payload, slowTierRetention).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", quote.Symbol, err)
	}
	return nil
}

var _ SlowTier = (*RedisTier)(nil)
