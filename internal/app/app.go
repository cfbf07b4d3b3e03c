// Package app provides the top-level application lifecycle for the funding
// bot. It wires every dependency, holds the instance lease and starts the
// goroutines of the configured run mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/config"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
)

// ErrLeaseLost is returned when another process takes over the symbol.
var ErrLeaseLost = errors.New("instance lease lost")

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, selects the run mode and blocks until the
// context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("symbol", a.cfg.Funding.Symbol),
		slog.String("strategy", a.cfg.Funding.Strategy),
		slog.Bool("dry_run", a.cfg.Funding.DryRun),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "trade":
		return a.TradeMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// acquireLease takes the per-symbol instance lease. Without a lock manager
// it returns a nil lease.
func (a *App) acquireLease(ctx context.Context, deps *Dependencies) (domain.Lease, error) {
	if deps.LockManager == nil {
		a.logger.WarnContext(ctx, "redis disabled, running without an instance lease")
		return nil, nil
	}
	key := "instance:" + a.cfg.Funding.Symbol
	lease, err := deps.LockManager.Acquire(ctx, key, a.cfg.Redis.LeaseTTL.Duration)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("app: another instance manages %s: %w", a.cfg.Funding.Symbol, err)
		}
		return nil, fmt.Errorf("app: acquire lease: %w", err)
	}
	a.closers = append(a.closers, lease.Release)
	a.logger.InfoContext(ctx, "instance lease acquired", slog.String("key", key))
	return lease, nil
}

// keepLease refreshes the lease at a third of its TTL. A lost lease stops
// the process; transient refresh errors are retried until the TTL runs out.
func (a *App) keepLease(ctx context.Context, lease domain.Lease, notifier *notify.Notifier) error {
	ttl := a.cfg.Redis.LeaseTTL.Duration
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()

	lastOK := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		err := lease.Refresh(ctx, ttl)
		if err == nil {
			lastOK = time.Now()
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, domain.ErrLockHeld) || time.Since(lastOK) >= ttl {
			a.logger.ErrorContext(ctx, "instance lease lost", slog.String("error", err.Error()))
			msg := fmt.Sprintf("%s: %v", a.cfg.Funding.Symbol, err)
			if nerr := notifier.Notify(context.WithoutCancel(ctx), notify.EventLeaseLost, "Instance lease lost", msg); nerr != nil {
				a.logger.WarnContext(ctx, "notify lease lost failed", slog.String("error", nerr.Error()))
			}
			return fmt.Errorf("app: %w: %v", ErrLeaseLost, err)
		}
		a.logger.WarnContext(ctx, "lease refresh failed, retrying", slog.String("error", err.Error()))
	}
}
