// Package service turns strategy decisions into exchange commands and
// fans finished replacements out to storage, the bus and operators.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/goccy/go-json"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/metrics"
	"github.com/alanyoungcy/fundingbot/internal/notify"
)

// StreamReplacements is the bus stream finished replacements are appended to.
const StreamReplacements = "replacements"

// Exchange is the REST surface the service drives.
type Exchange interface {
	SubmitFundingOffer(ctx context.Context, symbol string, amount, rate float64, period int) (domain.Order, error)
	CancelFundingOffer(ctx context.Context, id int64) error
	CloseFunding(ctx context.Context, id int64) error
}

// FundingService issues borrow, cancel and return commands for one symbol.
// In dry-run mode every command is logged and nothing reaches the exchange.
// Optional collaborators are attached with the With* methods.
type FundingService struct {
	symbol   string
	exchange Exchange
	dryRun   bool
	logger   *slog.Logger

	limiter   domain.RateLimiter
	perMinute int

	audit        domain.AuditStore
	replacements domain.ReplacementStore
	bus          domain.SignalBus
	notifier     *notify.Notifier
	metrics      *metrics.Metrics
}

// NewFundingService creates a FundingService for symbol.
func NewFundingService(symbol string, exchange Exchange, dryRun bool, logger *slog.Logger) *FundingService {
	return &FundingService{
		symbol:   symbol,
		exchange: exchange,
		dryRun:   dryRun,
		logger:   logger.With(slog.String("component", "funding_service"), slog.String("symbol", symbol)),
	}
}

// WithRateLimiter throttles REST commands to perMinute across processes.
func (s *FundingService) WithRateLimiter(l domain.RateLimiter, perMinute int) *FundingService {
	s.limiter = l
	s.perMinute = perMinute
	return s
}

// WithAudit records every command in the audit log.
func (s *FundingService) WithAudit(a domain.AuditStore) *FundingService {
	s.audit = a
	return s
}

// WithReplacementStore persists finished replacements.
func (s *FundingService) WithReplacementStore(r domain.ReplacementStore) *FundingService {
	s.replacements = r
	return s
}

// WithSignalBus appends finished replacements to a stream.
func (s *FundingService) WithSignalBus(b domain.SignalBus) *FundingService {
	s.bus = b
	return s
}

// WithNotifier alerts operators about finished replacements.
func (s *FundingService) WithNotifier(n *notify.Notifier) *FundingService {
	s.notifier = n
	return s
}

// WithMetrics counts commands and replacements.
func (s *FundingService) WithMetrics(m *metrics.Metrics) *FundingService {
	s.metrics = m
	return s
}

// DryRun reports whether commands are suppressed.
func (s *FundingService) DryRun() bool {
	return s.dryRun
}

// Borrow places a borrow order for amount at rate. In dry-run mode it
// returns a zero Order.
func (s *FundingService) Borrow(ctx context.Context, amount, rate float64, period int) (domain.Order, error) {
	attrs := []any{
		slog.Float64("amount", amount),
		slog.Float64("rate", rate),
		slog.Int("period", period),
	}
	if s.dryRun {
		s.logger.InfoContext(ctx, "dry run: would borrow", attrs...)
		return domain.Order{}, nil
	}

	var order domain.Order
	err := s.command(ctx, "borrow", func() error {
		var err error
		order, err = s.exchange.SubmitFundingOffer(ctx, s.symbol, -amount, rate, period)
		return err
	})
	s.record(ctx, "funding.borrow", err, map[string]any{
		"amount": amount, "rate": rate, "period": period, "order_id": order.ID,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "borrow failed", append(attrs, slog.String("error", err.Error()))...)
		return domain.Order{}, fmt.Errorf("funding_service: borrow: %w", err)
	}
	s.logger.InfoContext(ctx, "borrow order placed", append(attrs, slog.Int64("order_id", order.ID))...)
	return order, nil
}

// CancelOffers cancels each order. Orders already gone are not an error.
func (s *FundingService) CancelOffers(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if s.dryRun {
		s.logger.InfoContext(ctx, "dry run: would cancel offers", slog.Any("ids", ids))
		return nil
	}

	var errs []error
	for _, id := range ids {
		err := s.command(ctx, "cancel", func() error {
			return s.exchange.CancelFundingOffer(ctx, id)
		})
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.DebugContext(ctx, "offer already gone", slog.Int64("id", id))
			err = nil
		}
		s.record(ctx, "funding.cancel", err, map[string]any{"order_id": id})
		if err != nil {
			errs = append(errs, fmt.Errorf("cancel %d: %w", id, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.ErrorContext(ctx, "cancel failed", slog.String("error", err.Error()))
		return fmt.Errorf("funding_service: %w", err)
	}
	s.logger.InfoContext(ctx, "offers cancelled", slog.Any("ids", ids))
	return nil
}

// ReturnBorrow closes one funding contract.
func (s *FundingService) ReturnBorrow(ctx context.Context, id int64) error {
	if s.dryRun {
		s.logger.InfoContext(ctx, "dry run: would return borrow", slog.Int64("id", id))
		return nil
	}

	err := s.command(ctx, "return", func() error {
		return s.exchange.CloseFunding(ctx, id)
	})
	s.record(ctx, "funding.return", err, map[string]any{"borrow_id": id})
	if err != nil {
		s.logger.ErrorContext(ctx, "return failed", slog.Int64("id", id), slog.String("error", err.Error()))
		return fmt.Errorf("funding_service: return %d: %w", id, err)
	}
	s.logger.InfoContext(ctx, "borrow returned", slog.Int64("id", id))
	return nil
}

// ReturnManyBorrows closes each contract in order and keeps going past
// failures.
func (s *FundingService) ReturnManyBorrows(ctx context.Context, ids []int64) error {
	var errs []error
	for _, id := range ids {
		if err := s.ReturnBorrow(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordReplacement stores, streams and announces a finished replacement.
// Failures are logged; the replacement itself already happened.
func (s *FundingService) RecordReplacement(ctx context.Context, r domain.Replacement) {
	s.logger.InfoContext(ctx, "replacement finished",
		slog.String("id", r.ID),
		slog.String("strategy", r.Strategy),
		slog.String("outcome", string(r.Outcome)),
		slog.Float64("target_amount", r.TargetAmount),
		slog.Float64("target_rate", r.TargetRate),
		slog.Float64("filled", r.FilledAmount),
		slog.Any("returned", r.ReturnedIDs),
	)

	if s.metrics != nil {
		s.metrics.ObserveReplacement(r.Strategy, r.Outcome)
	}
	if s.replacements != nil {
		if err := s.replacements.Insert(ctx, r); err != nil {
			s.logger.WarnContext(ctx, "persist replacement failed", slog.String("error", err.Error()))
		}
	}
	if s.bus != nil {
		if payload, err := json.Marshal(replacementMessage(r)); err == nil {
			if err := s.bus.StreamAppend(ctx, StreamReplacements, payload); err != nil {
				s.logger.WarnContext(ctx, "stream replacement failed", slog.String("error", err.Error()))
			}
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyReplacement(ctx, r); err != nil {
			s.logger.WarnContext(ctx, "notify replacement failed", slog.String("error", err.Error()))
		}
	}
}

// command throttles, runs and measures one REST call.
func (s *FundingService) command(ctx context.Context, name string, call func() error) error {
	if s.limiter != nil && s.perMinute > 0 {
		if err := s.limiter.Wait(ctx, "rest:"+s.symbol, s.perMinute, time.Minute); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}
	start := time.Now()
	err := call()
	if s.metrics != nil {
		s.metrics.ObserveCommand(name, err, time.Since(start))
	}
	return err
}

func (s *FundingService) record(ctx context.Context, event string, cmdErr error, detail map[string]any) {
	if s.audit == nil {
		return
	}
	detail["symbol"] = s.symbol
	if cmdErr != nil {
		detail["error"] = cmdErr.Error()
	}
	if err := s.audit.Log(ctx, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

type replacementJSON struct {
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

func replacementMessage(r domain.Replacement) replacementJSON {
	return replacementJSON{
		ID:           r.ID,
		Strategy:     r.Strategy,
		Symbol:       r.Symbol,
		TargetAmount: r.TargetAmount,
		TargetRate:   r.TargetRate,
		FilledAmount: r.FilledAmount,
		ReplacedIDs:  r.ReplacedIDs,
		ReturnedIDs:  r.ReturnedIDs,
		Outcome:      string(r.Outcome),
		StartedAt:    r.StartedAt,
		CompletedAt:  r.CompletedAt,
	}
}
