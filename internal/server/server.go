// Package server exposes the bot's live state over a small read-only HTTP
// API plus a Prometheus scrape endpoint.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
	"github.com/alanyoungcy/fundingbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is requests per minute per client IP; zero disables it.
	RateLimit int
}

// Handlers aggregates the HTTP handlers the server registers. Metrics may
// be nil.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Funding *handler.FundingHandler
	History *handler.HistoryHandler
	Metrics http.Handler
}

// Server is the headless HTTP API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in logging, CORS, rate
// limiting and auth. Health and metrics stay unauthenticated.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	api.HandleFunc("GET /api/report", handlers.Status.GetReport)
	api.HandleFunc("GET /api/borrows", handlers.Funding.ListBorrows)
	api.HandleFunc("GET /api/offers", handlers.Funding.ListOffers)
	api.HandleFunc("GET /api/orders", handlers.Funding.ListOrders)
	api.HandleFunc("GET /api/wallets", handlers.Funding.ListWallets)
	api.HandleFunc("GET /api/positions", handlers.Funding.ListPositions)
	api.HandleFunc("GET /api/replacements", handlers.History.ListReplacements)
	api.HandleFunc("GET /api/audit", handlers.History.ListAudit)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	mux.Handle("/api/", middleware.Auth(cfg.APIKey)(api))

	var h http.Handler = mux
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Minute, logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.Logging(logger)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
