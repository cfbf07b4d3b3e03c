// Package config defines the top-level configuration for the funding bot
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by FUNDBOT_* environment variables.
type Config struct {
	Exchange ExchangeConfig `toml:"exchange"`
	Funding  FundingConfig  `toml:"funding"`
	Report   ReportConfig   `toml:"report"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// ExchangeConfig holds exchange endpoints and API credentials.
type ExchangeConfig struct {
	RestHost            string   `toml:"rest_host"`
	WsHost              string   `toml:"ws_host"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	RequestTimeout      duration `toml:"request_timeout"`
	// RequestsPerMinute caps authenticated REST calls; zero disables the limit.
	RequestsPerMinute int `toml:"requests_per_minute"`
}

// FundingConfig holds the strategy parameters for the managed symbol.
type FundingConfig struct {
	Symbol          string    `toml:"symbol"`
	Strategy        string    `toml:"strategy"`
	DryRun          bool      `toml:"dry_run"`
	Period          int       `toml:"period"`
	MinImprovement  float64   `toml:"min_improvement"`
	MinBorrowSize   float64   `toml:"min_borrow_size"`
	ReturnTolerance float64   `toml:"return_tolerance"`
	Cooldown        duration  `toml:"cooldown"`
	TargetRates     []float64 `toml:"target_rates"`
	TickInterval    duration  `toml:"tick_interval"`

	FillPollAttempts  int      `toml:"fill_poll_attempts"`
	FillPollInterval  duration `toml:"fill_poll_interval"`
	DrainPollAttempts int      `toml:"drain_poll_attempts"`
	DrainPollInterval duration `toml:"drain_poll_interval"`
}

// ReportConfig controls the periodic summary.
type ReportConfig struct {
	Interval     duration `toml:"interval"`
	Notify       bool     `toml:"notify"`
	Archive      bool     `toml:"archive"`
	ArchiveEvery int      `toml:"archive_every"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LeaseTTL   duration `toml:"lease_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	ApiKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RateLimit is requests per minute per client; needs redis.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Exchange: ExchangeConfig{
			RestHost:          "https://api.bitfinex.com",
			WsHost:            "wss://api.bitfinex.com/ws/2",
			RequestTimeout:    duration{15 * time.Second},
			RequestsPerMinute: 60,
		},
		Funding: FundingConfig{
			Symbol:            "fUSD",
			Strategy:          "replace",
			DryRun:            true,
			Period:            2,
			MinImprovement:    0.00001,
			MinBorrowSize:     150,
			ReturnTolerance:   0.01,
			Cooldown:          duration{30 * time.Second},
			TargetRates:       []float64{30, 25, 20, 15},
			TickInterval:      duration{time.Minute},
			FillPollAttempts:  30,
			FillPollInterval:  duration{time.Second},
			DrainPollAttempts: 30,
			DrainPollInterval: duration{time.Second},
		},
		Report: ReportConfig{
			Interval:     duration{5 * time.Minute},
			ArchiveEvery: 12,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "fundbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  5,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LeaseTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "fundbot-reports",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"replacement_completed", "replacement_failed", "auth_failed", "lease_lost"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validStrategies enumerates the accepted values for FundingConfig.Strategy.
var validStrategies = map[string]bool{
	"replace": true,
	"target":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Exchange: credentials are needed in both modes for the account channel.
	if c.Exchange.RestHost == "" {
		errs = append(errs, "exchange: rest_host must not be empty")
	}
	if c.Exchange.WsHost == "" {
		errs = append(errs, "exchange: ws_host must not be empty")
	}
	if c.Exchange.ApiKey == "" {
		errs = append(errs, "exchange: api_key must be set")
	}
	if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
		errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set")
	}
	if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
		errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
	}
	if c.Exchange.RequestsPerMinute < 0 {
		errs = append(errs, "exchange: requests_per_minute must be >= 0")
	}

	// Funding
	f := c.Funding
	if !strings.HasPrefix(f.Symbol, "f") || len(f.Symbol) < 2 {
		errs = append(errs, fmt.Sprintf("funding: symbol must be a funding symbol like fUSD, got %q", f.Symbol))
	}
	if !validStrategies[f.Strategy] {
		errs = append(errs, fmt.Sprintf("funding: unknown strategy %q (valid: replace, target)", f.Strategy))
	}
	if f.Period < 2 || f.Period > 120 {
		errs = append(errs, fmt.Sprintf("funding: period must be 2-120 days, got %d", f.Period))
	}
	if f.MinImprovement < 0 {
		errs = append(errs, "funding: min_improvement must be >= 0")
	}
	if f.MinBorrowSize <= 0 {
		errs = append(errs, "funding: min_borrow_size must be > 0")
	}
	if f.ReturnTolerance < 0 {
		errs = append(errs, "funding: return_tolerance must be >= 0")
	}
	if f.FillPollAttempts < 1 || f.DrainPollAttempts < 1 {
		errs = append(errs, "funding: fill_poll_attempts and drain_poll_attempts must be >= 1")
	}
	if f.FillPollInterval.Duration <= 0 || f.DrainPollInterval.Duration <= 0 {
		errs = append(errs, "funding: poll intervals must be > 0")
	}
	if f.Strategy == "target" {
		if len(f.TargetRates) == 0 {
			errs = append(errs, "funding: target_rates must not be empty for the target strategy")
		}
		for _, r := range f.TargetRates {
			if r <= 0 {
				errs = append(errs, fmt.Sprintf("funding: target rate %v must be > 0", r))
			}
		}
		if f.TickInterval.Duration <= 0 {
			errs = append(errs, "funding: tick_interval must be > 0 for the target strategy")
		}
	}

	if c.Report.Interval.Duration <= 0 {
		errs = append(errs, "report: interval must be > 0")
	}
	if c.Report.Archive && !c.S3.Enabled {
		errs = append(errs, "report: archive requires s3.enabled")
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LeaseTTL.Duration < time.Second {
			errs = append(errs, "redis: lease_ttl must be at least 1s")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
