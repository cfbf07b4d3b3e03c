package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/notify"
	"github.com/alanyoungcy/fundingbot/internal/platform/bitfinex"
	"github.com/alanyoungcy/fundingbot/internal/report"
	"github.com/alanyoungcy/fundingbot/internal/serial"
	"github.com/alanyoungcy/fundingbot/internal/server"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
	"github.com/alanyoungcy/fundingbot/internal/service"
	"github.com/alanyoungcy/fundingbot/internal/state"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

// shutdownTimeout bounds the HTTP server drain on exit.
const shutdownTimeout = 5 * time.Second

// TradeMode takes the instance lease, then runs the stream, the strategy
// engine, the reporter and the HTTP server. Commands are sent to the
// exchange unless funding.dry_run is set.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	lease, err := a.acquireLease(ctx, deps)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	if lease != nil {
		g.Go(func() error {
			return a.keepLease(ctx, lease, deps.Notifier)
		})
	}

	store := state.New(a.cfg.Funding.Symbol, a.logger)
	svc := a.fundingService(deps)
	strat, err := strategy.NewRegistry().Build(a.strategyConfig(), strategy.Deps{
		State:     store,
		Commander: svc,
		Lock:      serial.New(),
		Recorder:  svc,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("trade mode: %w", err)
	}

	a.startPipeline(ctx, g, deps, store, strat)
	return g.Wait()
}

// MonitorMode keeps the state store current and reports on it. No
// commands are sent and no lease is taken.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	store := state.New(a.cfg.Funding.Symbol, a.logger)
	a.startPipeline(ctx, g, deps, store, nil)
	return g.Wait()
}

// startPipeline adds the stream, engine, reporter and server goroutines to
// g. strat is nil in monitor mode.
func (a *App) startPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, store *state.Store, strat strategy.Strategy) {
	stream := bitfinex.NewStream(bitfinex.StreamConfig{
		URL:      a.cfg.Exchange.WsHost,
		Symbol:   a.cfg.Funding.Symbol,
		Auth:     deps.Auth,
		Observer: deps.Metrics,
		Logger:   a.logger,
	})
	g.Go(func() error {
		err := stream.Run(ctx)
		if errors.Is(err, domain.ErrUnauthorized) {
			msg := fmt.Sprintf("%s: exchange rejected the API credentials", a.cfg.Funding.Symbol)
			if nerr := deps.Notifier.Notify(context.WithoutCancel(ctx), notify.EventAuthFailed, "Authentication failed", msg); nerr != nil {
				a.logger.WarnContext(ctx, "notify auth failure failed", slog.String("error", nerr.Error()))
			}
		}
		return err
	})

	engine := strategy.NewEngine(store, strat, deps.Metrics, a.logger)
	g.Go(func() error {
		return engine.Run(ctx, stream.Events())
	})

	reporter := a.reporter(deps, store, strat)
	g.Go(func() error {
		return reporter.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, store, stream, strat, reporter)
	}
}

func (a *App) fundingService(deps *Dependencies) *service.FundingService {
	svc := service.NewFundingService(a.cfg.Funding.Symbol, deps.Exchange, a.cfg.Funding.DryRun, a.logger).
		WithAudit(deps.AuditStore).
		WithReplacementStore(deps.ReplacementStore).
		WithSignalBus(deps.SignalBus).
		WithNotifier(deps.Notifier).
		WithMetrics(deps.Metrics)
	if deps.RateLimiter != nil {
		svc.WithRateLimiter(deps.RateLimiter, a.cfg.Exchange.RequestsPerMinute)
	}
	return svc
}

func (a *App) strategyConfig() strategy.Config {
	f := a.cfg.Funding
	return strategy.Config{
		Name:              f.Strategy,
		Period:            f.Period,
		MinImprovement:    f.MinImprovement,
		MinBorrowSize:     f.MinBorrowSize,
		ReturnTolerance:   f.ReturnTolerance,
		Cooldown:          f.Cooldown.Duration,
		FillPollAttempts:  f.FillPollAttempts,
		FillPollInterval:  f.FillPollInterval.Duration,
		DrainPollAttempts: f.DrainPollAttempts,
		DrainPollInterval: f.DrainPollInterval.Duration,
		TargetRates:       f.TargetRates,
		TickInterval:      f.TickInterval.Duration,
	}
}

func (a *App) reporter(deps *Dependencies, store *state.Store, strat strategy.Strategy) *report.Reporter {
	r := report.NewReporter(store, a.cfg.Report.Interval.Duration, a.logger).
		WithMetrics(deps.Metrics).
		WithCache(deps.ReportCache, deps.SignalBus)
	if strat != nil {
		r.WithStatus(strat)
	}
	if a.cfg.Report.Notify {
		r.WithNotifier(deps.Notifier)
	}
	if a.cfg.Report.Archive && deps.Archiver != nil {
		r.WithArchiver(deps.Archiver, a.cfg.Report.ArchiveEvery)
	}
	return r
}

// startHTTPServer adds the API server and its shutdown watcher to g.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	store *state.Store,
	stream *bitfinex.Stream,
	strat strategy.Strategy,
	reporter *report.Reporter,
) {
	var stratStatus handler.StrategyStatus
	if strat != nil {
		stratStatus = strat
	}
	checks := make(map[string]handler.CheckFunc, len(deps.HealthChecks)+1)
	for name, fn := range deps.HealthChecks {
		checks[name] = fn
	}
	checks["exchange_stream"] = func(context.Context) error {
		if !stream.Connected() {
			return domain.ErrWSDisconnect
		}
		return nil
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.ApiKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(checks, a.logger),
		Status:  handler.NewStatusHandler(a.cfg.Mode, a.cfg.Funding.Symbol, a.cfg.Funding.DryRun, stream, stratStatus, reporter),
		Funding: handler.NewFundingHandler(store),
		History: handler.NewHistoryHandler(a.cfg.Funding.Symbol, deps.ReplacementStore, deps.AuditStore, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
