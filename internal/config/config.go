package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/playgude2/stock-sentinel/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Market    MarketConfig    `mapstructure:"market"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Windows   WindowsConfig   `mapstructure:"windows"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Snapshots SnapshotsConfig `mapstructure:"snapshots"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig covers the slow price-cache tier.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SchedulerConfig governs evaluation cadence.
type SchedulerConfig struct {
	Interval           time.Duration `mapstructure:"interval"`
	AlignToBucket      bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey    int64         `mapstructure:"advisory_lock_key"`
	StartupDelay       time.Duration `mapstructure:"startup_delay"`
	HardDeadlineFactor int           `mapstructure:"hard_deadline_factor"`
}

// MarketConfig describes the trading calendar.
type MarketConfig struct {
	Open              string        `mapstructure:"open"`
	Close             string        `mapstructure:"close"`
	TradingDays       []string      `mapstructure:"trading_days"`
	TimeZone          string        `mapstructure:"timezone"`
	SessionOpenWindow time.Duration `mapstructure:"session_open_window"`
	Holidays          []string      `mapstructure:"holidays"`
}

// FeedConfig parameterises the external quote feed.
type FeedConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	ExchangeSuffix string        `mapstructure:"exchange_suffix"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	RateLimit      float64       `mapstructure:"rate_limit"`
	RateBurst      int           `mapstructure:"rate_burst"`
	Concurrency    int           `mapstructure:"concurrency"`
}

// CacheConfig sets price cache tier TTLs.
type CacheConfig struct {
	FastTTL time.Duration `mapstructure:"fast_ttl"`
	SlowTTL time.Duration `mapstructure:"slow_ttl"`
}

// WindowsConfig lists the tracked rolling-window durations.
type WindowsConfig struct {
	Durations []time.Duration `mapstructure:"durations"`
}

// AlertingConfig defines cooldown and notification routing.
type AlertingConfig struct {
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Channels []string       `mapstructure:"channels"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
}

// WhatsAppConfig holds Twilio WhatsApp credentials.
type WhatsAppConfig struct {
	AccountSID string `mapstructure:"account_sid"`
	AuthToken  string `mapstructure:"auth_token"`
	FromNumber string `mapstructure:"from_number"`
	APIBase    string `mapstructure:"api_base"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// KafkaConfig routes alert events to a topic.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// SnapshotsConfig bounds persisted intraday history.
type SnapshotsConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Notification channel names recognised in alerting.channels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelTelegram = "telegram"
	ChannelKafka    = "kafka"
)

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKSENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stocksentinel")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("scheduler.interval", "5m")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.advisory_lock_key", int64(0x53544f4b))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.hard_deadline_factor", 2)

	v.SetDefault("market.open", "09:15")
	v.SetDefault("market.close", "15:30")
	v.SetDefault("market.trading_days", []string{"Mon", "Tue", "Wed", "Thu", "Fri"})
	v.SetDefault("market.timezone", "Asia/Kolkata")
	v.SetDefault("market.session_open_window", "5m")

	v.SetDefault("feed.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("feed.exchange_suffix", ".NS")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "stocksentinel/1.0")
	v.SetDefault("feed.rate_limit", 5.0)
	v.SetDefault("feed.rate_burst", 5)
	v.SetDefault("feed.concurrency", 4)

	v.SetDefault("cache.fast_ttl", "60s")
	v.SetDefault("cache.slow_ttl", "300s")

	v.SetDefault("windows.durations", []string{"60m", "120m"})

	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.channels", []string{})
	v.SetDefault("alerting.whatsapp.api_base", "https://api.twilio.com")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.kafka.topic", "stock-alerts")

	v.SetDefault("snapshots.retention", "2h")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("redis.key_prefix", "stocksentinel")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.HardDeadlineFactor < 1 {
		return fmt.Errorf("scheduler.hard_deadline_factor must be at least 1")
	}
	if c.Cache.FastTTL <= 0 || c.Cache.SlowTTL <= 0 {
		return fmt.Errorf("cache.fast_ttl and cache.slow_ttl must be greater than zero")
	}
	if c.Cache.SlowTTL < c.Cache.FastTTL {
		return fmt.Errorf("cache.slow_ttl must not be shorter than cache.fast_ttl")
	}
	if len(c.Windows.Durations) == 0 {
		return fmt.Errorf("windows.durations must name at least one duration")
	}
	for _, d := range c.Windows.Durations {
		if d <= 0 {
			return fmt.Errorf("windows.durations entries must be greater than zero")
		}
	}
	if c.Alerting.Cooldown < 0 {
		return fmt.Errorf("alerting.cooldown cannot be negative")
	}
	if c.Market.SessionOpenWindow <= 0 {
		return fmt.Errorf("market.session_open_window must be greater than zero")
	}
	if _, err := time.Parse("15:04", c.Market.Open); err != nil {
		return fmt.Errorf("market.open must be HH:MM: %w", err)
	}
	if _, err := time.Parse("15:04", c.Market.Close); err != nil {
		return fmt.Errorf("market.close must be HH:MM: %w", err)
	}
	for _, h := range c.Market.Holidays {
		if _, err := time.Parse("2006-01-02", h); err != nil {
			return fmt.Errorf("market.holidays entries must be YYYY-MM-DD: %w", err)
		}
	}
	if c.Feed.Concurrency <= 0 {
		return fmt.Errorf("feed.concurrency must be greater than zero")
	}
	if c.Snapshots.Retention <= 0 {
		return fmt.Errorf("snapshots.retention must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return c.validateChannels()
}

func (c *Config) validateChannels() error {
	for _, ch := range c.Alerting.Channels {
		switch ch {
		case ChannelWhatsApp:
			if c.Alerting.WhatsApp.AccountSID == "" || c.Alerting.WhatsApp.AuthToken == "" {
				return fmt.Errorf("alerting.whatsapp credentials required for channel %q", ch)
			}
			if c.Alerting.WhatsApp.FromNumber == "" {
				return fmt.Errorf("alerting.whatsapp.from_number required for channel %q", ch)
			}
		case ChannelTelegram:
			if c.Alerting.Telegram.BotToken == "" || c.Alerting.Telegram.ChatID == "" {
				return fmt.Errorf("alerting.telegram credentials required for channel %q", ch)
			}
		case ChannelKafka:
			if len(c.Alerting.Kafka.Brokers) == 0 {
				return fmt.Errorf("alerting.kafka.brokers required for channel %q", ch)
			}
		default:
			return fmt.Errorf("unknown alerting channel %q", ch)
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
