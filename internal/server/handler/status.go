package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/report"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

// StreamStatus reports the exchange connection state.
type StreamStatus interface {
	Connected() bool
	LastMessageAt() time.Time
}

// StrategyStatus reports the running strategy's state.
type StrategyStatus interface {
	Status(ctx context.Context) strategy.Status
}

// LatestReport returns the most recent summary.
type LatestReport interface {
	Latest() (report.Summary, bool)
}

// StatusHandler serves the bot status.
type StatusHandler struct {
	Mode   string
	Symbol string
	DryRun bool

	stream   StreamStatus
	strategy StrategyStatus
	reports  LatestReport
}

// NewStatusHandler creates a StatusHandler. Any of stream, strat and
// reports may be nil.
func NewStatusHandler(mode, symbol string, dryRun bool, stream StreamStatus, strat StrategyStatus, reports LatestReport) *StatusHandler {
	return &StatusHandler{
		Mode:     mode,
		Symbol:   symbol,
		DryRun:   dryRun,
		stream:   stream,
		strategy: strat,
		reports:  reports,
	}
}

type statusResponse struct {
	Mode          string           `json:"mode"`
	Symbol        string           `json:"symbol"`
	DryRun        bool             `json:"dry_run"`
	Connected     bool             `json:"connected"`
	LastMessageAt *time.Time       `json:"last_message_at,omitempty"`
	Strategy      *strategy.Status `json:"strategy,omitempty"`
}

// GetStatus responds with the mode, connection and strategy state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Mode: h.Mode, Symbol: h.Symbol, DryRun: h.DryRun}
	if h.stream != nil {
		resp.Connected = h.stream.Connected()
		if at := h.stream.LastMessageAt(); !at.IsZero() {
			at = at.UTC()
			resp.LastMessageAt = &at
		}
	}
	if h.strategy != nil {
		st := h.strategy.Status(r.Context())
		resp.Strategy = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetReport responds with the latest summary.
// GET /api/report
func (h *StatusHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.reports == nil {
		writeError(w, http.StatusNotFound, "reporting disabled")
		return
	}
	s, ok := h.reports.Latest()
	if !ok {
		writeError(w, http.StatusNotFound, "no report yet")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
