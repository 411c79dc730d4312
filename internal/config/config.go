package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/rafappelt/crypto-dashboard/internal/domain"
	"github.com/rafappelt/crypto-dashboard/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// FeedConfig covers the streaming trade feed.
type FeedConfig struct {
	APIKey               string        `mapstructure:"api_key"`
	URL                  string        `mapstructure:"url"`
	RESTURL              string        `mapstructure:"rest_url"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
	Pairs                []string      `mapstructure:"pairs"`
}

// SchedulerConfig governs the background job cadence.
type SchedulerConfig struct {
	AggregationInterval time.Duration `mapstructure:"aggregation_interval"`
	PersistenceInterval time.Duration `mapstructure:"persistence_interval"`
}

// StorageConfig locates the durable average table.
type StorageConfig struct {
	DataDir      string `mapstructure:"data_dir"`
	HistoryLimit int    `mapstructure:"history_limit"`
}

// DatabaseConfig encapsulates the optional PostgreSQL archive.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// Enabled reports whether a DSN was provided.
func (d DatabaseConfig) Enabled() bool { return strings.TrimSpace(d.DSN) != "" }

// RedisConfig describes the optional event relay.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Prefix    string        `mapstructure:"prefix"`
	LatestTTL time.Duration `mapstructure:"latest_ttl"`
}

// Enabled reports whether an address was provided.
func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

// AlertingConfig defines operator alert routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Channels []string       `mapstructure:"channels"`
	Timeout  time.Duration  `mapstructure:"timeout"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram delivery parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RATEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("feed.api_key", "RATEWATCH_FEED_API_KEY", "FINNHUB_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

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
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ratewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("feed.api_key", "")
	v.SetDefault("feed.url", "wss://ws.finnhub.io")
	v.SetDefault("feed.rest_url", "https://finnhub.io/api/v1")
	v.SetDefault("feed.max_reconnect_attempts", 10)
	v.SetDefault("feed.handshake_timeout", "10s")
	v.SetDefault("feed.pairs", []string{"ETH/USDC", "ETH/USDT", "ETH/BTC"})

	v.SetDefault("scheduler.aggregation_interval", "60s")
	v.SetDefault("scheduler.persistence_interval", "20s")

	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.history_limit", 3600)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "ratewatch")
	v.SetDefault("redis.latest_ttl", "5m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.timeout", "10s")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
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

// Validate performs basic sanity checks on the configuration values. An
// empty feed.api_key is accepted; connecting is what fails.
func (c *Config) Validate() error {
	if _, err := c.Pairs(); err != nil {
		return fmt.Errorf("feed.pairs: %w", err)
	}
	if c.Feed.MaxReconnectAttempts < 0 {
		return fmt.Errorf("feed.max_reconnect_attempts cannot be negative")
	}
	if c.Scheduler.AggregationInterval <= 0 {
		return fmt.Errorf("scheduler.aggregation_interval must be greater than zero")
	}
	if c.Scheduler.PersistenceInterval <= 0 {
		return fmt.Errorf("scheduler.persistence_interval must be greater than zero")
	}
	if c.Storage.HistoryLimit <= 0 {
		return fmt.Errorf("storage.history_limit must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// Pairs parses feed.pairs in configured order.
func (c *Config) Pairs() ([]domain.Pair, error) {
	return domain.ParsePairs(c.Feed.Pairs)
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
