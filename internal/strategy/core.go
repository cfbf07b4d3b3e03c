package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/serial"
)

// rateEpsilon absorbs float error when comparing rates derived by subtraction.
const rateEpsilon = 1e-12

// Deps are the collaborators shared by all strategies.
type Deps struct {
	State     StateReader
	Commander Commander
	Lock      *serial.Lock
	Recorder  Recorder
	Logger    *slog.Logger

	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// ReplacementCost summarizes a set of borrows considered for replacement.
type ReplacementCost struct {
	BestRate    float64
	TotalAmount float64
}

// Core carries the helpers both algorithms build on: cost and book
// queries, the guarded borrow command and the cooldown window.
type Core struct {
	cfg      Config
	state    StateReader
	cmd      Commander
	lock     *serial.Lock
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	pauseMu    sync.Mutex
	pauseUntil time.Time
}

func newCore(name string, cfg Config, deps Deps) *Core {
	c := &Core{
		cfg:      cfg,
		state:    deps.State,
		cmd:      deps.Commander,
		lock:     deps.Lock,
		recorder: deps.Recorder,
		logger:   deps.Logger.With(slog.String("strategy", name)),
		now:      deps.Now,
		sleep:    deps.Sleep,
	}
	if c.lock == nil {
		c.lock = serial.New()
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepCtx
	}
	return c
}

// ComputeReplacementCost returns the cheapest rate and the total amount of
// subset. An empty subset costs nothing.
func (c *Core) ComputeReplacementCost(subset []domain.Borrow) ReplacementCost {
	if len(subset) == 0 {
		return ReplacementCost{}
	}
	cost := ReplacementCost{BestRate: subset[0].Rate}
	for _, b := range subset {
		if b.Rate < cost.BestRate {
			cost.BestRate = b.Rate
		}
		cost.TotalAmount += b.Amount
	}
	return cost
}

// OffersCheaperThan returns the book levels priced at least MinImprovement
// below rate, cheapest first.
func (c *Core) OffersCheaperThan(rate float64) []domain.Offer {
	limit := rate - c.cfg.MinImprovement
	var out []domain.Offer
	for _, o := range c.state.Offers() {
		if o.Rate > limit+rateEpsilon {
			break
		}
		out = append(out, o)
	}
	return out
}

// FindFillRate walks offers cheapest first and returns the rate of the level
// at which cumulative depth reaches amount. When the book runs out the last
// level's rate is returned; an empty book yields zero.
func FindFillRate(offers []domain.Offer, amount float64) float64 {
	var depth, rate float64
	for _, o := range offers {
		rate = o.Rate
		depth += o.Amount
		if depth >= amount {
			return rate
		}
	}
	return rate
}

// Depth totals the amount available across offers.
func Depth(offers []domain.Offer) float64 {
	var total float64
	for _, o := range offers {
		total += o.Amount
	}
	return total
}

// Borrow asks for amount at rate. Requests below MinBorrowSize are dropped
// and return a zero order.
func (c *Core) Borrow(ctx context.Context, amount, rate float64) (domain.Order, error) {
	if amount < c.cfg.MinBorrowSize {
		c.logger.Debug("borrow below minimum size skipped",
			slog.Float64("amount", amount),
			slog.Float64("min_borrow_size", c.cfg.MinBorrowSize),
		)
		return domain.Order{}, nil
	}
	c.logger.Info("borrowing",
		slog.Float64("amount", amount),
		slog.Float64("rate", rate),
		slog.Float64("apr", domain.DailyToAnnual(rate)),
		slog.Int("period", c.cfg.Period),
	)
	order, err := c.cmd.Borrow(ctx, amount, rate, c.cfg.Period)
	if err != nil {
		c.logger.Error("borrow failed", slog.String("error", err.Error()))
		return domain.Order{}, err
	}
	return order, nil
}

// Paused reports whether the cooldown window is still open.
func (c *Core) Paused() bool {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.now().Before(c.pauseUntil)
}

// PauseFor extends the cooldown window to now+d.
func (c *Core) PauseFor(d time.Duration) {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	c.pauseUntil = c.now().Add(d)
}

// PausedUntil returns the end of the cooldown window.
func (c *Core) PausedUntil() time.Time {
	c.pauseMu.Lock()
	defer c.pauseMu.Unlock()
	return c.pauseUntil
}

func (c *Core) ownBorrowOrders() []domain.Order {
	var out []domain.Order
	for _, o := range c.state.Orders() {
		if o.IsBorrow() {
			out = append(out, o)
		}
	}
	return out
}

func (c *Core) record(ctx context.Context, r domain.Replacement) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordReplacement(ctx, r)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
