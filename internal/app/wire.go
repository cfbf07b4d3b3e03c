package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	s3blob "github.com/alanyoungcy/fundingbot/internal/blob/s3"
	"github.com/alanyoungcy/fundingbot/internal/cache/redis"
	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/crypto"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/metrics"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/platform/bitfinex"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
	"github.com/alanyoungcy/fundingbot/internal/store/postgres"
)

// Dependencies bundles every collaborator the run modes need. Optional
// backends are nil when disabled in the config.
type Dependencies struct {
	Auth     *crypto.HMACAuth
	Exchange *bitfinex.Client
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier

	// Postgres
	AuditStore       domain.AuditStore
	ReplacementStore domain.ReplacementStore

	// Redis
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	ReportCache domain.ReportCache

	// S3
	Archiver *s3blob.Archiver

	// HealthChecks probe each enabled backend.
	HealthChecks map[string]handler.CheckFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics:      metrics.New(),
		HealthChecks: make(map[string]handler.CheckFunc),
	}

	// --- Exchange credentials ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Exchange.ApiSecret,
		EncryptedPath: cfg.Exchange.EncryptedSecretPath,
		Password:      cfg.Exchange.SecretPassword,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("wire: api secret: %w", err)
	}
	deps.Auth = crypto.NewHMACAuth(cfg.Exchange.ApiKey, secret)
	deps.Exchange = bitfinex.NewClient(cfg.Exchange.RestHost, deps.Auth, cfg.Exchange.RequestTimeout.Duration)

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.ReplacementStore = postgres.NewReplacementStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.ReportCache = redis.NewReportCache(redisClient)
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.AuditStore)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	events := append([]string(nil), cfg.Notify.Events...)
	if cfg.Report.Notify && len(events) > 0 && !slices.Contains(events, notify.EventReport) {
		events = append(events, notify.EventReport)
	}
	deps.Notifier = notify.NewNotifier(senders, events, logger)

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", cfg.Postgres.Enabled),
		slog.Bool("redis", cfg.Redis.Enabled),
		slog.Bool("s3", cfg.S3.Enabled),
		slog.Int("notify_senders", len(senders)),
	)
	return deps, cleanup, nil
}
