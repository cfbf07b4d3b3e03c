package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// HistoryHandler serves persisted replacements and the audit log.
type HistoryHandler struct {
	symbol       string
	replacements domain.ReplacementStore
	audit        domain.AuditStore
	logger       *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler. Either store may be nil, in
// which case its endpoint answers 404.
func NewHistoryHandler(symbol string, replacements domain.ReplacementStore, audit domain.AuditStore, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{
		symbol:       symbol,
		replacements: replacements,
		audit:        audit,
		logger:       logger.With(slog.String("handler", "history")),
	}
}

type replacementView struct {
	ID           string    `json:"id"`
	Strategy     string    `json:"strategy"`
	Symbol       string    `json:"symbol"`
	TargetAmount float64   `json:"target_amount"`
	TargetRate   float64   `json:"target_rate"`
	FilledAmount float64   `json:"filled_amount"`
	ReplacedIDs  []int64   `json:"replaced_ids"`
	ReturnedIDs  []int64   `json:"returned_ids"`
	Outcome      string    `json:"outcome"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// ListReplacements returns the most recent replacements, newest first.
// GET /api/replacements?limit=N
func (h *HistoryHandler) ListReplacements(w http.ResponseWriter, r *http.Request) {
	if h.replacements == nil {
		writeError(w, http.StatusNotFound, "replacement history disabled")
		return
	}
	opts := parseListOpts(r)
	list, err := h.replacements.ListRecent(r.Context(), h.symbol, opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list replacements failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list replacements")
		return
	}
	views := make([]replacementView, 0, len(list))
	for _, rp := range list {
		views = append(views, replacementView{
			ID:           rp.ID,
			Strategy:     rp.Strategy,
			Symbol:       rp.Symbol,
			TargetAmount: rp.TargetAmount,
			TargetRate:   rp.TargetRate,
			FilledAmount: rp.FilledAmount,
			ReplacedIDs:  rp.ReplacedIDs,
			ReturnedIDs:  rp.ReturnedIDs,
			Outcome:      string(rp.Outcome),
			StartedAt:    rp.StartedAt,
			CompletedAt:  rp.CompletedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"replacements": views})
}

type auditView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit returns audit log entries, newest first.
// GET /api/audit?limit=N&offset=M
func (h *HistoryHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log disabled")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list audit failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list audit log")
		return
	}
	views := make([]auditView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditView{ID: e.ID, Event: e.Event, Detail: e.Detail, CreatedAt: e.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": views})
}
