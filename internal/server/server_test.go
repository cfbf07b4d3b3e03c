package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/metrics"
	"github.com/alanyoungcy/fundingbot/internal/report"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

var created = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

type fakeState struct{}

func (fakeState) Symbol() string { return "fUSD" }
func (fakeState) Borrows() []domain.Borrow {
	return []domain.Borrow{{ID: 1, Side: domain.BorrowSideBorrower, Usage: domain.UsageUsing, Rate: 0.0002, Period: 2, Amount: 100, CreatedAt: created}}
}
func (fakeState) Offers() []domain.Offer {
	return []domain.Offer{{Rate: 0.0001, Period: 2, Count: 1, Amount: 50}, {Rate: 0.0002, Period: 2, Count: 2, Amount: 70}}
}
func (fakeState) Orders() []domain.Order {
	return []domain.Order{{ID: 7, Amount: -100, AmountRemaining: -40, Rate: 0.0001, Period: 2}}
}
func (fakeState) Wallets() []domain.Wallet {
	return []domain.Wallet{{Type: "funding", Currency: "USD", Balance: 10, Available: 5}}
}
func (fakeState) Positions() []domain.Position { return nil }
func (fakeState) Totals() domain.Totals        { return domain.Totals{NetUsing: 100} }

type fakeStream struct{}

func (fakeStream) Connected() bool          { return true }
func (fakeStream) LastMessageAt() time.Time { return created }

type fakeStrategy struct{}

func (fakeStrategy) Status(context.Context) strategy.Status {
	return strategy.Status{Name: "replace", PendingReturn: 3}
}

type fakeReports struct{ ok bool }

func (f fakeReports) Latest() (report.Summary, bool) {
	return report.Summary{Symbol: "fUSD", Total: 100}, f.ok
}

type fakeReplacements struct{ err error }

func (f fakeReplacements) Insert(context.Context, domain.Replacement) error { return nil }
func (f fakeReplacements) ListRecent(_ context.Context, symbol string, limit int) ([]domain.Replacement, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Replacement{{ID: "r1", Symbol: symbol, Outcome: domain.OutcomeReplaced, ReturnedIDs: []int64{int64(limit)}}}, nil
}

type denyLimiter struct{}

func (denyLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, nil
}
func (denyLimiter) Wait(context.Context, string, int, time.Duration) error { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(cfg Config, checks map[string]handler.CheckFunc, limiter domain.RateLimiter) http.Handler {
	logger := testLogger()
	h := Handlers{
		Health:  handler.NewHealthHandler(checks, logger),
		Status:  handler.NewStatusHandler("trade", "fUSD", true, fakeStream{}, fakeStrategy{}, fakeReports{ok: true}),
		Funding: handler.NewFundingHandler(fakeState{}),
		History: handler.NewHistoryHandler("fUSD", fakeReplacements{}, nil, logger),
		Metrics: metrics.New().Handler(),
	}
	return NewServer(cfg, h, limiter, logger).Handler()
}

func get(t *testing.T, h http.Handler, path string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]any
	if rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestServer(Config{APIKey: "secret"}, map[string]handler.CheckFunc{
		"redis": func(context.Context) error { return nil },
	}, nil)

	rec, body := get(t, h, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, "ok", body["checks"].(map[string]any)["redis"])
}

func TestHealthDegraded(t *testing.T) {
	h := newTestServer(Config{}, map[string]handler.CheckFunc{
		"postgres": func(context.Context) error { return errors.New("conn refused") },
	}, nil)

	rec, body := get(t, h, "/api/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "degraded", body["status"])
	require.Equal(t, "conn refused", body["checks"].(map[string]any)["postgres"])
}

func TestAuthRequiredForAPI(t *testing.T) {
	h := newTestServer(Config{APIKey: "secret"}, nil, nil)

	rec, _ := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = get(t, h, "/api/status", http.Header{"X-Api-Key": {"wrong"}})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := get(t, h, "/api/status", http.Header{"Authorization": {"Bearer secret"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "trade", body["mode"])
	require.Equal(t, true, body["dry_run"])
	require.Equal(t, true, body["connected"])
	require.Equal(t, "replace", body["strategy"].(map[string]any)["name"])
}

func TestFundingSnapshots(t *testing.T) {
	h := newTestServer(Config{}, nil, nil)

	rec, body := get(t, h, "/api/borrows", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 100.0, body["net_using"])
	borrows := body["borrows"].([]any)
	require.Len(t, borrows, 1)
	b := borrows[0].(map[string]any)
	require.Equal(t, "using", b["usage"])
	require.InDelta(t, 7.3, b["apr"], 1e-9)
	require.Equal(t, "2026-02-03T00:00:00Z", b["expires_at"])

	_, body = get(t, h, "/api/offers?limit=1", nil)
	require.Len(t, body["offers"], 1)

	_, body = get(t, h, "/api/orders", nil)
	order := body["orders"].([]any)[0].(map[string]any)
	require.Equal(t, 60.0, order["filled"])

	_, body = get(t, h, "/api/wallets", nil)
	require.Len(t, body["wallets"], 1)

	_, body = get(t, h, "/api/positions", nil)
	require.Empty(t, body["positions"])
}

func TestReportAndReplacements(t *testing.T) {
	h := newTestServer(Config{}, nil, nil)

	rec, body := get(t, h, "/api/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 100.0, body["total"])

	_, body = get(t, h, "/api/replacements?limit=5", nil)
	list := body["replacements"].([]any)
	require.Len(t, list, 1)
	require.Equal(t, []any{5.0}, list[0].(map[string]any)["returned_ids"])

	rec, _ = get(t, h, "/api/audit", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(Config{APIKey: "secret"}, nil, nil)

	rec, _ := get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimitRejects(t *testing.T) {
	h := newTestServer(Config{RateLimit: 10}, nil, denyLimiter{})

	rec, body := get(t, h, "/api/status", nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "rate limit exceeded", body["error"])
	require.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(Config{CORSOrigins: []string{"https://dash.example.com"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "https://dash.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "https://dash.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
