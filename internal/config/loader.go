package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies FUNDBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known FUNDBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.RestHost, "FUNDBOT_EXCHANGE_REST_HOST")
	setStr(&cfg.Exchange.WsHost, "FUNDBOT_EXCHANGE_WS_HOST")
	setStr(&cfg.Exchange.ApiKey, "FUNDBOT_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "FUNDBOT_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "FUNDBOT_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "FUNDBOT_EXCHANGE_SECRET_PASSWORD")
	setDuration(&cfg.Exchange.RequestTimeout, "FUNDBOT_EXCHANGE_REQUEST_TIMEOUT")
	setInt(&cfg.Exchange.RequestsPerMinute, "FUNDBOT_EXCHANGE_REQUESTS_PER_MINUTE")

	// ── Funding ──
	setStr(&cfg.Funding.Symbol, "FUNDBOT_FUNDING_SYMBOL")
	setStr(&cfg.Funding.Strategy, "FUNDBOT_FUNDING_STRATEGY")
	setBool(&cfg.Funding.DryRun, "FUNDBOT_FUNDING_DRY_RUN")
	setInt(&cfg.Funding.Period, "FUNDBOT_FUNDING_PERIOD")
	setFloat64(&cfg.Funding.MinImprovement, "FUNDBOT_FUNDING_MIN_IMPROVEMENT")
	setFloat64(&cfg.Funding.MinBorrowSize, "FUNDBOT_FUNDING_MIN_BORROW_SIZE")
	setFloat64(&cfg.Funding.ReturnTolerance, "FUNDBOT_FUNDING_RETURN_TOLERANCE")
	setDuration(&cfg.Funding.Cooldown, "FUNDBOT_FUNDING_COOLDOWN")
	setFloat64Slice(&cfg.Funding.TargetRates, "FUNDBOT_FUNDING_TARGET_RATES")
	setDuration(&cfg.Funding.TickInterval, "FUNDBOT_FUNDING_TICK_INTERVAL")
	setInt(&cfg.Funding.FillPollAttempts, "FUNDBOT_FUNDING_FILL_POLL_ATTEMPTS")
	setDuration(&cfg.Funding.FillPollInterval, "FUNDBOT_FUNDING_FILL_POLL_INTERVAL")
	setInt(&cfg.Funding.DrainPollAttempts, "FUNDBOT_FUNDING_DRAIN_POLL_ATTEMPTS")
	setDuration(&cfg.Funding.DrainPollInterval, "FUNDBOT_FUNDING_DRAIN_POLL_INTERVAL")

	// ── Report ──
	setDuration(&cfg.Report.Interval, "FUNDBOT_REPORT_INTERVAL")
	setBool(&cfg.Report.Notify, "FUNDBOT_REPORT_NOTIFY")
	setBool(&cfg.Report.Archive, "FUNDBOT_REPORT_ARCHIVE")
	setInt(&cfg.Report.ArchiveEvery, "FUNDBOT_REPORT_ARCHIVE_EVERY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "FUNDBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "FUNDBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "FUNDBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "FUNDBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "FUNDBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "FUNDBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "FUNDBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "FUNDBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "FUNDBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "FUNDBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "FUNDBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "FUNDBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "FUNDBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "FUNDBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "FUNDBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "FUNDBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "FUNDBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "FUNDBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LeaseTTL, "FUNDBOT_REDIS_LEASE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "FUNDBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "FUNDBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "FUNDBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "FUNDBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "FUNDBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "FUNDBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "FUNDBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "FUNDBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "FUNDBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "FUNDBOT_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "FUNDBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "FUNDBOT_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "FUNDBOT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "FUNDBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "FUNDBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "FUNDBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "FUNDBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "FUNDBOT_MODE")
	setStr(&cfg.LogLevel, "FUNDBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		cleaned := splitList(v)
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setFloat64Slice only applies when every element parses.
func setFloat64Slice(dst *[]float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	parts := splitList(v)
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return
		}
		out = append(out, f)
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}
