package strategy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Target periodically re-prices: it cancels its own borrow orders and places
// one order at the highest target rate that some borrow still exceeds. Fills
// are used to return the borrows priced above that target.
type Target struct {
	*Core

	rates []float64 // annual percentages, highest first

	// Guarded by Core.lock.
	tooExpensive  []domain.Borrow
	filledSoFar   float64
	pendingReturn float64
	seen          map[int64]float64 // filled amount already counted, by order id
	stale         map[int64]bool    // seen entries whose order was gone at the last reset

	ticking atomic.Bool
	wg      sync.WaitGroup
}

// NewTarget creates the staged target-rate strategy.
func NewTarget(cfg Config, deps Deps) *Target {
	rates := append([]float64(nil), cfg.TargetRates...)
	sort.Sort(sort.Reverse(sort.Float64Slice(rates)))
	return &Target{
		Core:  newCore("target", cfg, deps),
		rates: rates,
		seen:  make(map[int64]float64),
		stale: make(map[int64]bool),
	}
}

// Name returns the strategy identifier.
func (t *Target) Name() string { return "target" }

// TickInterval is how often OnTick re-prices.
func (t *Target) TickInterval() time.Duration { return t.cfg.TickInterval }

// OnOfferChanged is a no-op; Target is timer driven.
func (t *Target) OnOfferChanged(context.Context) {}

// OnTrade logs funding trades against the account's offers.
func (t *Target) OnTrade(_ context.Context, trade domain.Trade) {
	t.logger.Info("funding trade",
		slog.Int64("trade_id", trade.ID),
		slog.Int64("offer_id", trade.OfferID),
		slog.Float64("amount", trade.Amount),
		slog.Float64("rate", trade.Rate),
	)
}

// OnTick runs one re-pricing cycle. A tick that arrives while the previous
// cycle is still draining is skipped.
func (t *Target) OnTick(ctx context.Context) {
	if !t.ticking.CompareAndSwap(false, true) {
		t.logger.Debug("previous cycle still running, tick skipped")
		return
	}
	t.wg.Add(1)
	defer t.wg.Done()
	defer t.ticking.Store(false)

	if !t.drain(ctx) {
		return
	}

	_ = t.lock.Run(ctx, func(context.Context) error {
		t.tooExpensive = nil
		t.filledSoFar = 0
		t.sweepSeen()
		return nil
	})

	borrows := t.state.Borrows()
	for _, apr := range t.rates {
		rate := domain.AnnualToDaily(apr)
		var over []domain.Borrow
		for _, b := range borrows {
			if b.Rate > rate+rateEpsilon {
				over = append(over, b)
			}
		}
		if len(over) == 0 {
			continue
		}

		var amount float64
		_ = t.lock.Run(ctx, func(context.Context) error {
			t.tooExpensive = over
			amount = domain.SumAmount(over) - t.pendingReturn
			return nil
		})
		t.logger.Info("target tier selected",
			slog.Float64("apr", apr),
			slog.Int("too_expensive", len(over)),
			slog.Float64("amount", amount),
		)
		if amount >= t.cfg.MinBorrowSize {
			_, _ = t.Borrow(ctx, amount, rate)
		}
		return
	}
}

// drain cancels the account's borrow orders and waits until the store shows
// none. It reports false when orders remain after the last poll.
func (t *Target) drain(ctx context.Context) bool {
	open := t.ownBorrowOrders()
	if len(open) == 0 {
		return true
	}
	ids := make([]int64, 0, len(open))
	for _, o := range open {
		ids = append(ids, o.ID)
	}
	if err := t.cmd.CancelOffers(ctx, ids); err != nil {
		t.logger.Error("cancel own orders", slog.String("error", err.Error()))
		return false
	}
	for i := 0; i < t.cfg.DrainPollAttempts; i++ {
		if err := t.sleep(ctx, t.cfg.DrainPollInterval); err != nil {
			return false
		}
		if len(t.ownBorrowOrders()) == 0 {
			return true
		}
	}
	t.logger.Warn("own orders still open after cancel", slog.Any("order_ids", ids))
	return false
}

// sweepSeen drops fill counters of orders that left the store without a
// cancel reaching OnOrderChanged, such as orders missing from a snapshot.
// An order must be absent at two consecutive resets, so a cancel already
// applied to the store but not yet dispatched still finds its counter.
func (t *Target) sweepSeen() {
	for id := range t.seen {
		if _, open := t.state.Order(id); open {
			delete(t.stale, id)
			continue
		}
		if t.stale[id] {
			delete(t.seen, id)
			delete(t.stale, id)
			continue
		}
		t.stale[id] = true
	}
}

// OnOrderChanged folds newly filled quantity into the amount owed back and
// returns too-expensive borrows, worst first, that fit in it.
func (t *Target) OnOrderChanged(ctx context.Context, order domain.Order) {
	if !order.IsBorrow() {
		return
	}
	var toReturn []domain.Borrow
	_ = t.lock.Run(ctx, func(context.Context) error {
		filled := order.Filled()
		delta := filled - t.seen[order.ID]
		switch {
		case order.Closed:
			delete(t.seen, order.ID)
			delete(t.stale, order.ID)
		case delta > 0:
			t.seen[order.ID] = filled
		}
		if delta <= 0 {
			return nil
		}
		t.filledSoFar += delta
		t.pendingReturn += delta

		for t.pendingReturn > 0 {
			idx := -1
			for i, b := range t.tooExpensive {
				if b.Amount <= t.pendingReturn+t.cfg.ReturnTolerance {
					idx = i
					break
				}
			}
			if idx < 0 {
				break
			}
			b := t.tooExpensive[idx]
			t.tooExpensive = append(t.tooExpensive[:idx:idx], t.tooExpensive[idx+1:]...)
			t.pendingReturn -= b.Amount
			if t.pendingReturn < 0 {
				t.pendingReturn = 0
			}
			toReturn = append(toReturn, b)
		}
		return nil
	})

	for _, b := range toReturn {
		t.logger.Info("returning borrow",
			slog.Int64("borrow_id", b.ID),
			slog.Float64("amount", b.Amount),
			slog.Float64("rate", b.Rate),
		)
		if err := t.cmd.ReturnBorrow(ctx, b.ID); err != nil {
			t.logger.Error("return borrow", slog.Int64("borrow_id", b.ID), slog.String("error", err.Error()))
		}
	}
}

// OnBorrowChanged forgets too-expensive borrows that no longer exist.
func (t *Target) OnBorrowChanged(ctx context.Context) {
	_ = t.lock.Run(ctx, func(context.Context) error {
		if len(t.tooExpensive) > 0 {
			t.tooExpensive = stillOpen(t.state, t.tooExpensive)
		}
		return nil
	})
}

// Status reports the current tier bookkeeping.
func (t *Target) Status(ctx context.Context) Status {
	st := Status{Name: t.Name(), PausedUntil: t.PausedUntil()}
	_ = t.lock.Run(ctx, func(context.Context) error {
		st.TooExpensive = domain.BorrowIDs(t.tooExpensive)
		st.PendingReturn = t.pendingReturn
		st.FilledSoFar = t.filledSoFar
		return nil
	})
	return st
}

// Wait blocks until a running cycle finishes.
func (t *Target) Wait() { t.wg.Wait() }

var _ Strategy = (*Target)(nil)
