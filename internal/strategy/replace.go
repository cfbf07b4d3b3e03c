package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Replace continuously swaps the most expensive borrows for cheaper funding
// from the book. At most one replacement is in flight at a time.
type Replace struct {
	*Core

	// Guarded by Core.lock.
	pending  *domain.PendingReplacement
	adopting bool
	seen     map[int64]float64

	wg sync.WaitGroup
}

// replacementPlan is the outcome of evaluating the book against borrows.
type replacementPlan struct {
	toReplace []domain.Borrow
	amount    float64
	rate      float64
}

// NewReplace creates the continuous replacement strategy.
func NewReplace(cfg Config, deps Deps) *Replace {
	return &Replace{
		Core: newCore("replace", cfg, deps),
		seen: make(map[int64]float64),
	}
}

// Name returns the strategy identifier.
func (r *Replace) Name() string { return "replace" }

// TickInterval is zero; Replace is driven by book updates.
func (r *Replace) TickInterval() time.Duration { return 0 }

// OnTick is a no-op.
func (r *Replace) OnTick(context.Context) {}

// OnOfferChanged re-evaluates the book and starts a replacement when a
// cheaper set of offers can absorb some of the worst borrows.
func (r *Replace) OnOfferChanged(ctx context.Context) {
	if r.Paused() {
		return
	}

	var started *domain.PendingReplacement
	err := r.lock.Run(ctx, func(context.Context) error {
		if r.pending != nil {
			return nil
		}
		plan, ok := r.plan()
		if !ok {
			return nil
		}
		r.pending = &domain.PendingReplacement{
			ID:           uuid.NewString(),
			Strategy:     r.Name(),
			OrderIDs:     make(map[int64]struct{}),
			ToReplace:    plan.toReplace,
			TargetAmount: plan.amount,
			TargetRate:   plan.rate,
			StartedAt:    r.now(),
		}
		r.adopting = true
		cp := *r.pending
		started = &cp
		return nil
	})
	if err != nil {
		r.logger.Warn("evaluate replacement", slog.String("error", err.Error()))
		return
	}
	if started == nil {
		return
	}

	r.PauseFor(r.cfg.Cooldown)
	r.logger.Info("replacement started",
		slog.String("replacement_id", started.ID),
		slog.Int("borrows", len(started.ToReplace)),
		slog.Float64("amount", started.TargetAmount),
		slog.Float64("rate", started.TargetRate),
	)

	r.wg.Add(1)
	go r.run(context.WithoutCancel(ctx), ctx, *started)
}

// plan walks worst-first prefixes of the borrows, from all of them down to
// the single worst, and returns the first one the cheaper book can absorb.
// Shrinking drops the cheapest borrow of the prefix each step.
func (r *Replace) plan() (replacementPlan, bool) {
	borrows := r.state.Borrows()
	offers := r.state.Offers()
	if len(borrows) == 0 || len(offers) == 0 {
		return replacementPlan{}, false
	}

	seeking := borrows[0].Rate - r.cfg.MinImprovement
	if offers[0].Rate > seeking+rateEpsilon {
		return replacementPlan{}, false
	}

	for n := len(borrows); n >= 1; n-- {
		subset := borrows[:n]
		cost := r.ComputeReplacementCost(subset)
		if cost.TotalAmount < r.cfg.MinBorrowSize {
			break
		}
		cheaper := r.OffersCheaperThan(cost.BestRate)
		if Depth(cheaper) > cost.TotalAmount {
			toReplace := make([]domain.Borrow, n)
			copy(toReplace, subset)
			return replacementPlan{
				toReplace: toReplace,
				amount:    cost.TotalAmount,
				rate:      FindFillRate(cheaper, cost.TotalAmount),
			}, true
		}
	}
	return replacementPlan{}, false
}

// run drives one replacement to completion. Commands use cleanupCtx so the
// exchange is left consistent on shutdown; waits honour ctx.
func (r *Replace) run(cleanupCtx, ctx context.Context, p domain.PendingReplacement) {
	defer r.wg.Done()

	result := domain.Replacement{
		ID:           p.ID,
		Strategy:     p.Strategy,
		Symbol:       r.state.Symbol(),
		TargetAmount: p.TargetAmount,
		TargetRate:   p.TargetRate,
		ReplacedIDs:  domain.BorrowIDs(p.ToReplace),
		StartedAt:    p.StartedAt,
	}

	order, err := r.Borrow(cleanupCtx, p.TargetAmount, p.TargetRate)
	_ = r.lock.Run(cleanupCtx, func(context.Context) error {
		r.adopting = false
		if err == nil && order.ID != 0 {
			r.pending.OrderIDs[order.ID] = struct{}{}
		}
		return nil
	})

	switch {
	case err != nil:
		result.Outcome = domain.OutcomeFailed
	case order.ID == 0:
		result.Outcome = domain.OutcomeDryRun
	default:
		result.Outcome = r.settle(cleanupCtx, ctx, &result)
	}

	// Cooldown is re-armed before pending clears.
	_ = r.lock.Run(cleanupCtx, func(context.Context) error {
		r.PauseFor(r.cfg.Cooldown)
		for id := range r.pending.OrderIDs {
			delete(r.seen, id)
		}
		r.pending = nil
		return nil
	})
	result.CompletedAt = r.now()

	r.logger.Info("replacement finished",
		slog.String("replacement_id", result.ID),
		slog.String("outcome", string(result.Outcome)),
		slog.Float64("filled", result.FilledAmount),
		slog.Int("returned", len(result.ReturnedIDs)),
	)
	r.record(cleanupCtx, result)
}

// settle waits for fills, cancels what is left and returns the borrows the
// new funding covers.
func (r *Replace) settle(cleanupCtx, ctx context.Context, result *domain.Replacement) domain.ReplacementOutcome {
	r.waitForFill(ctx)

	ids := r.liveOrderIDs()
	if len(ids) > 0 {
		if err := r.cmd.CancelOffers(cleanupCtx, ids); err != nil {
			r.logger.Error("cancel unfilled remainder", slog.String("error", err.Error()))
		}
		r.waitForOrdersGone(ctx, ids)
	}

	var (
		filled    float64
		toReplace []domain.Borrow
	)
	_ = r.lock.Run(cleanupCtx, func(context.Context) error {
		filled = r.pending.FilledAmount
		toReplace = r.pending.ToReplace
		return nil
	})
	result.FilledAmount = filled
	if filled <= 0 {
		return domain.OutcomeUnfilled
	}

	toReturn := BorrowsToReturn(toReplace, filled, r.cfg.ReturnTolerance)
	if len(toReturn) == 0 {
		return domain.OutcomeReplaced
	}
	ids = domain.BorrowIDs(toReturn)
	if err := r.cmd.ReturnManyBorrows(cleanupCtx, ids); err != nil {
		r.logger.Error("return replaced borrows", slog.String("error", err.Error()))
		return domain.OutcomeFailed
	}
	result.ReturnedIDs = ids
	return domain.OutcomeReplaced
}

// waitForFill polls for the first fill, then gives burst fills one more
// interval to arrive.
func (r *Replace) waitForFill(ctx context.Context) {
	for i := 0; i < r.cfg.FillPollAttempts; i++ {
		if r.filledCount() > 0 {
			_ = r.sleep(ctx, r.cfg.FillPollInterval)
			return
		}
		if err := r.sleep(ctx, r.cfg.FillPollInterval); err != nil {
			return
		}
	}
}

func (r *Replace) waitForOrdersGone(ctx context.Context, ids []int64) {
	for i := 0; i < r.cfg.FillPollAttempts; i++ {
		live := false
		for _, id := range ids {
			if _, ok := r.state.Order(id); ok {
				live = true
				break
			}
		}
		if !live {
			return
		}
		if err := r.sleep(ctx, r.cfg.FillPollInterval); err != nil {
			return
		}
	}
	r.logger.Warn("orders still open after cancel", slog.Any("order_ids", ids))
}

func (r *Replace) filledCount() int {
	var n int
	_ = r.lock.Run(context.Background(), func(context.Context) error {
		n = r.pending.FilledCount
		return nil
	})
	return n
}

func (r *Replace) liveOrderIDs() []int64 {
	var ids []int64
	_ = r.lock.Run(context.Background(), func(context.Context) error {
		for id := range r.pending.OrderIDs {
			if _, ok := r.state.Order(id); ok {
				ids = append(ids, id)
			}
		}
		return nil
	})
	return ids
}

// OnOrderChanged counts newly filled quantity on orders of the pending
// replacement. While the borrow command is in flight any borrow order on
// the symbol is adopted.
func (r *Replace) OnOrderChanged(ctx context.Context, order domain.Order) {
	_ = r.lock.Run(ctx, func(context.Context) error {
		if r.pending == nil {
			return nil
		}
		if !r.pending.Has(order.ID) {
			if !r.adopting || !order.IsBorrow() {
				return nil
			}
			r.pending.OrderIDs[order.ID] = struct{}{}
		}
		filled := order.Filled()
		delta := filled - r.seen[order.ID]
		if delta <= 0 {
			return nil
		}
		r.seen[order.ID] = filled
		r.pending.FilledCount++
		r.pending.FilledAmount += delta
		r.logger.Debug("replacement fill",
			slog.Int64("order_id", order.ID),
			slog.Float64("delta", delta),
			slog.Float64("filled_total", r.pending.FilledAmount),
		)
		return nil
	})
}

// OnBorrowChanged drops borrows that were closed elsewhere from the
// pending replacement.
func (r *Replace) OnBorrowChanged(ctx context.Context) {
	_ = r.lock.Run(ctx, func(context.Context) error {
		if r.pending == nil {
			return nil
		}
		r.pending.ToReplace = stillOpen(r.state, r.pending.ToReplace)
		return nil
	})
}

// OnTrade logs funding trades against the account's offers.
func (r *Replace) OnTrade(_ context.Context, trade domain.Trade) {
	r.logger.Info("funding trade",
		slog.Int64("trade_id", trade.ID),
		slog.Int64("offer_id", trade.OfferID),
		slog.Float64("amount", trade.Amount),
		slog.Float64("rate", trade.Rate),
	)
}

// Status reports the cooldown and any replacement in flight.
func (r *Replace) Status(ctx context.Context) Status {
	st := Status{Name: r.Name(), PausedUntil: r.PausedUntil()}
	_ = r.lock.Run(ctx, func(context.Context) error {
		if r.pending != nil {
			cp := *r.pending
			cp.OrderIDs = make(map[int64]struct{}, len(r.pending.OrderIDs))
			for id := range r.pending.OrderIDs {
				cp.OrderIDs[id] = struct{}{}
			}
			cp.ToReplace = append([]domain.Borrow(nil), r.pending.ToReplace...)
			st.Pending = &cp
		}
		return nil
	})
	return st
}

// Wait blocks until in-flight replacements finish.
func (r *Replace) Wait() { r.wg.Wait() }

func stillOpen(state StateReader, borrows []domain.Borrow) []domain.Borrow {
	open := make(map[int64]bool)
	for _, b := range state.Borrows() {
		open[b.ID] = true
	}
	out := borrows[:0:0]
	for _, b := range borrows {
		if open[b.ID] {
			out = append(out, b)
		}
	}
	return out
}

var _ Strategy = (*Replace)(nil)
