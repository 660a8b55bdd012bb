package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/playgude2/stock-sentinel/internal/alerting"
	"github.com/playgude2/stock-sentinel/internal/config"
	"github.com/playgude2/stock-sentinel/internal/engine"
	"github.com/playgude2/stock-sentinel/internal/feed"
	"github.com/playgude2/stock-sentinel/internal/market"
	"github.com/playgude2/stock-sentinel/internal/pricecache"
	"github.com/playgude2/stock-sentinel/internal/storage"
	"github.com/playgude2/stock-sentinel/internal/window"
)

// App wires configuration into the runtime components backing each command.
// Commands construct only what they need; Close releases whatever was opened.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger

	store   *storage.Store
	redisDB *redis.Client
	closers []func()
}

func New(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

func (a *App) Logger() zerolog.Logger { return a.logger }

// Close tears down opened resources in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openStore connects the PostgreSQL pool once per process.
func (a *App) openStore(ctx context.Context) (*storage.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	if a.cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is not configured")
	}

	pool, err := storage.NewPool(ctx, a.cfg.Database)
	if err != nil {
		return nil, err
	}

	a.store = storage.NewStore(pool)
	a.closers = append(a.closers, a.store.Close)
	return a.store, nil
}

func (a *App) newCalendar() (*market.Calendar, error) {
	return market.NewCalendar(a.cfg.Market)
}

func (a *App) newFeed() *feed.Yahoo {
	return feed.NewYahoo(feed.YahooOptions{
		BaseURL:        a.cfg.Feed.BaseURL,
		ExchangeSuffix: a.cfg.Feed.ExchangeSuffix,
		Timeout:        a.cfg.Feed.RequestTimeout,
		UserAgent:      a.cfg.Feed.UserAgent,
		RateLimit:      a.cfg.Feed.RateLimit,
		RateBurst:      a.cfg.Feed.RateBurst,
	}, a.logger)
}

// newSlowTier returns the Redis-backed cache tier, or nil when Redis is not
// configured. The price cache degrades to two tiers without it.
func (a *App) newSlowTier() pricecache.SlowTier {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info().Msg("redis not configured, slow cache tier disabled")
		return nil
	}

	a.redisDB = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, func() { _ = a.redisDB.Close() })

	return pricecache.NewRedisTier(a.redisDB, a.cfg.Redis.KeyPrefix)
}

func (a *App) newCache(tracker *window.Tracker) *pricecache.Cache {
	return pricecache.New(
		a.newFeed(),
		a.newSlowTier(),
		engine.WindowObserver{Tracker: tracker},
		pricecache.Options{
			FastTTL: a.cfg.Cache.FastTTL,
			SlowTTL: a.cfg.Cache.SlowTTL,
		},
		a.logger,
	)
}

// newNotifier assembles the configured channels into one fan-out notifier.
// An empty channel list yields a nil notifier; fired alerts are then only
// recorded and logged.
func (a *App) newNotifier() (alerting.Notifier, error) {
	channels := make([]alerting.Notifier, 0, len(a.cfg.Alerting.Channels))
	for _, name := range a.cfg.Alerting.Channels {
		switch name {
		case config.ChannelWhatsApp:
			wa := a.cfg.Alerting.WhatsApp
			channels = append(channels, alerting.NewWhatsAppNotifier(
				wa.AccountSID, wa.AuthToken, wa.FromNumber, wa.APIBase,
				notifyTimeout, a.logger,
			))
		case config.ChannelTelegram:
			tg := a.cfg.Alerting.Telegram
			channels = append(channels, alerting.NewTelegramNotifier(
				tg.BotToken, tg.ChatID, tg.APIBase, notifyTimeout, a.logger,
			))
		case config.ChannelKafka:
			kn := alerting.NewKafkaNotifier(a.cfg.Alerting.Kafka.Brokers, a.cfg.Alerting.Kafka.Topic, a.logger)
			a.closers = append(a.closers, func() { _ = kn.Close() })
			channels = append(channels, kn)
		default:
			return nil, fmt.Errorf("unknown alerting channel %q", name)
		}
	}

	if len(channels) == 0 {
		a.logger.Warn().Msg("no notification channels configured, alerts will only be logged")
		return nil, nil
	}
	return alerting.NewMultiNotifier(channels, a.logger), nil
}

const notifyTimeout = 15 * time.Second
