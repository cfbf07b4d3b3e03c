package strategy

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Applier is the write side of the state store.
type Applier interface {
	Apply(ev domain.Event) (domain.Event, bool)
}

// EventObserver is told about every event the store accepted.
type EventObserver interface {
	ObserveEvent(kind domain.EventKind)
}

// Engine is the single event loop: it applies gateway events to the store in
// arrival order and dispatches the normalized result to the strategy. With a
// nil strategy it only keeps the store current.
type Engine struct {
	store    Applier
	strategy Strategy
	observer EventObserver
	logger   *slog.Logger

	ticks sync.WaitGroup
}

// NewEngine creates an Engine. strategy and observer may be nil.
func NewEngine(store Applier, strategy Strategy, observer EventObserver, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		strategy: strategy,
		observer: observer,
		logger:   logger.With(slog.String("component", "strategy_engine")),
	}
}

// Strategy returns the active strategy, or nil in monitor mode.
func (e *Engine) Strategy() Strategy { return e.strategy }

// Run consumes events until ctx is cancelled or events is closed, then waits
// for in-flight strategy work.
func (e *Engine) Run(ctx context.Context, events <-chan domain.Event) error {
	name := "none"
	if e.strategy != nil {
		name = e.strategy.Name()
	}
	e.logger.Info("strategy engine started", slog.String("strategy", name))
	defer e.logger.Info("strategy engine stopped")

	var tick <-chan time.Time
	if e.strategy != nil && e.strategy.TickInterval() > 0 {
		ticker := time.NewTicker(e.strategy.TickInterval())
		defer ticker.Stop()
		tick = ticker.C
	}
	defer func() {
		e.ticks.Wait()
		if e.strategy != nil {
			e.strategy.Wait()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.Handle(ctx, ev)
		case <-tick:
			// Ticks drain and poll, so they must not block event delivery.
			e.ticks.Add(1)
			go func() {
				defer e.ticks.Done()
				e.strategy.OnTick(ctx)
			}()
		}
	}
}

// Handle applies one event and dispatches it.
func (e *Engine) Handle(ctx context.Context, ev domain.Event) {
	norm, ok := e.store.Apply(ev)
	if !ok {
		return
	}
	if e.observer != nil {
		e.observer.ObserveEvent(norm.Kind)
	}
	if e.strategy == nil {
		return
	}

	switch norm.Kind {
	case domain.EventOfferSnapshot, domain.EventOfferUpdated, domain.EventOfferCancelled:
		e.strategy.OnOfferChanged(ctx)
	case domain.EventBorrowSnapshot, domain.EventBorrowUpdated, domain.EventBorrowCancelled:
		e.strategy.OnBorrowChanged(ctx)
	case domain.EventOrderSnapshot:
		for _, o := range norm.Orders {
			e.strategy.OnOrderChanged(ctx, o)
		}
	case domain.EventOrderNew, domain.EventOrderUpdated, domain.EventOrderCancelled:
		e.strategy.OnOrderChanged(ctx, *norm.Order)
	case domain.EventTradeExecuted, domain.EventTradeUpdated:
		e.strategy.OnTrade(ctx, *norm.Trade)
	}
}
