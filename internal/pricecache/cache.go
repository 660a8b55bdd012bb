package pricecache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/playgude2/stock-sentinel/internal/feed"
)

// ErrPriceUnavailable indicates the feed failed and no cached tier could
// answer. Callers skip the symbol for the cycle.
var ErrPriceUnavailable = errors.New("pricecache: price unavailable")

// SlowTier is the secondary, larger-scope cache (redis in production).
// Get returns ok=false on a clean miss; errors cover transport failures.
type SlowTier interface {
	Get(ctx context.Context, symbol string) (feed.Quote, bool, error)
	Set(ctx context.Context, quote feed.Quote) error
}

// FetchObserver is notified of every successful external fetch, so fresh
// observations reach the rolling windows exactly once.
type FetchObserver interface {
	QuoteFetched(quote feed.Quote)
}

// Options tune cache behaviour.
type Options struct {
	FastTTL time.Duration
	SlowTTL time.Duration
}

type fastEntry struct {
	quote    feed.Quote
	storedAt time.Time
}

// Cache is the tiered price lookup: process-local fast tier, shared slow
// tier, then the external feed. Concurrent lookups for one symbol coalesce
// into a single in-flight fetch.
type Cache struct {
	fetcher  feed.QuoteFetcher
	slow     SlowTier
	observer FetchObserver
	opts     Options
	logger   zerolog.Logger

	mu    sync.RWMutex
	fast  map[string]fastEntry
	group singleflight.Group
}

// New constructs a Cache. slow and observer may be nil; a nil slow tier
// degrades to fast-tier-plus-feed operation.
func New(fetcher feed.QuoteFetcher, slow SlowTier, observer FetchObserver, opts Options, logger zerolog.Logger) *Cache {
	if opts.FastTTL <= 0 {
		opts.FastTTL = 60 * time.Second
	}
	if opts.SlowTTL <= 0 {
		opts.SlowTTL = 300 * time.Second
	}
	return &Cache{
		fetcher:  fetcher,
		slow:     slow,
		observer: observer,
		opts:     opts,
		logger:   logger.With().Str("component", "price_cache").Logger(),
		fast:     make(map[string]fastEntry),
	}
}

// Get returns the freshest available quote for symbol. Tiers are consulted
// in order; the first hit wins. now is passed explicitly so cycles replay
// deterministically.
func (c *Cache) Get(ctx context.Context, symbol string, now time.Time) (feed.Quote, error) {
	if quote, ok := c.fastLookup(symbol, now); ok {
		return quote, nil
	}

	// Remember any slow-tier entry even when expired: it is the fallback of
	// last resort if the feed is down.
	slowQuote, slowOk := c.slowLookup(ctx, symbol)
	if slowOk && now.Sub(slowQuote.AsOf) < c.opts.SlowTTL {
		c.storeFast(symbol, slowQuote, now)
		return slowQuote, nil
	}

	result, err, _ := c.group.Do(symbol, func() (interface{}, error) {
		quote, fetchErr := c.fetcher.FetchQuote(ctx, symbol)
		if fetchErr != nil {
			return feed.Quote{}, fetchErr
		}

		c.storeFast(symbol, quote, now)
		if c.slow != nil {
			if setErr := c.slow.Set(ctx, quote); setErr != nil {
				c.logger.Warn().Err(setErr).Str("symbol", symbol).Msg("slow tier write failed")
			}
		}
		if c.observer != nil {
			c.observer.QuoteFetched(quote)
		}
		return quote, nil
	})
	if err == nil {
		return result.(feed.Quote), nil
	}

	if slowOk {
		slowQuote.Stale = true
		c.logger.Warn().Err(err).Str("symbol", symbol).
			Time("as_of", slowQuote.AsOf).
			Msg("feed failed, serving stale slow-tier quote")
		return slowQuote, nil
	}

	return feed.Quote{}, errors.Join(ErrPriceUnavailable, err)
}

func (c *Cache) fastLookup(symbol string, now time.Time) (feed.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.fast[symbol]
	if !ok || now.Sub(entry.storedAt) >= c.opts.FastTTL {
		return feed.Quote{}, false
	}
	return entry.quote, true
}

func (c *Cache) storeFast(symbol string, quote feed.Quote, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fast[symbol] = fastEntry{quote: quote, storedAt: now}
}

func (c *Cache) slowLookup(ctx context.Context, symbol string) (feed.Quote, bool) {
	if c.slow == nil {
		return feed.Quote{}, false
	}
	quote, ok, err := c.slow.Get(ctx, symbol)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("slow tier read failed")
		return feed.Quote{}, false
	}
	return quote, ok
}
