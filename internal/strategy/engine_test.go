package strategy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/state"
)

type recordingStrategy struct {
	mu    sync.Mutex
	calls []string
	ticks chan struct{}
	tick  time.Duration
}

func (s *recordingStrategy) add(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recordingStrategy) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStrategy) Name() string                    { return "recording" }
func (s *recordingStrategy) OnOfferChanged(context.Context)  { s.add("offer") }
func (s *recordingStrategy) OnBorrowChanged(context.Context) { s.add("borrow") }
func (s *recordingStrategy) OnOrderChanged(_ context.Context, o domain.Order) {
	s.add("order")
}
func (s *recordingStrategy) OnTrade(context.Context, domain.Trade) { s.add("trade") }
func (s *recordingStrategy) OnTick(context.Context) {
	select {
	case s.ticks <- struct{}{}:
	default:
	}
}
func (s *recordingStrategy) TickInterval() time.Duration   { return s.tick }
func (s *recordingStrategy) Status(context.Context) Status { return Status{Name: s.Name()} }
func (s *recordingStrategy) Wait()                         {}

type countingObserver struct {
	mu    sync.Mutex
	kinds []domain.EventKind
}

func (o *countingObserver) ObserveEvent(kind domain.EventKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.kinds = append(o.kinds, kind)
}

func TestEngineDispatchesInArrivalOrder(t *testing.T) {
	st := state.New("fUSD", discardLogger())
	rec := &recordingStrategy{}
	obs := &countingObserver{}
	e := NewEngine(st, rec, obs, discardLogger())

	events := make(chan domain.Event, 8)
	events <- domain.Event{Kind: domain.EventOfferUpdated, Offer: &domain.Offer{Rate: 0.0001, Period: 2, Count: 1, Amount: 10}}
	events <- domain.Event{Kind: domain.EventBorrowUpdated, Borrow: &domain.Borrow{ID: 1, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 5}}
	events <- domain.Event{Kind: domain.EventOrderNew, Order: &domain.Order{ID: 1, Symbol: "fUSD", Amount: -5}}
	events <- domain.Event{Kind: domain.EventTradeExecuted, Trade: &domain.Trade{ID: 1, Symbol: "fUSD"}}
	events <- domain.Event{Kind: domain.EventBorrowUpdated, Borrow: &domain.Borrow{ID: 2, Symbol: "fEUR"}}
	events <- domain.Event{Kind: domain.EventWalletUpdated, Wallet: &domain.Wallet{Type: "margin", Currency: "USD"}}
	close(events)

	require.NoError(t, e.Run(context.Background(), events))
	require.Equal(t, []string{"offer", "borrow", "order", "trade"}, rec.seen())
	require.Len(t, obs.kinds, 5)
	require.Len(t, st.Borrows(), 1)
}

func TestEngineOrderSnapshotDispatchesEachOrder(t *testing.T) {
	st := state.New("fUSD", discardLogger())
	rec := &recordingStrategy{}
	e := NewEngine(st, rec, nil, discardLogger())

	e.Handle(context.Background(), domain.Event{Kind: domain.EventOrderSnapshot, Orders: []domain.Order{
		{ID: 1, Symbol: "fUSD", Amount: -5},
		{ID: 2, Symbol: "fUSD", Amount: -6},
	}})
	require.Equal(t, []string{"order", "order"}, rec.seen())
}

func TestEngineMonitorModeOnlyUpdatesStore(t *testing.T) {
	st := state.New("fUSD", discardLogger())
	e := NewEngine(st, nil, nil, discardLogger())

	e.Handle(context.Background(), domain.Event{Kind: domain.EventBorrowUpdated, Borrow: &domain.Borrow{ID: 1, Symbol: "fUSD", Usage: domain.UsageUnused, Amount: 5}})
	require.Equal(t, 5.0, st.Totals().NetUnused)
}

func TestEngineTicks(t *testing.T) {
	st := state.New("fUSD", discardLogger())
	rec := &recordingStrategy{ticks: make(chan struct{}, 1), tick: 5 * time.Millisecond}
	e := NewEngine(st, rec, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, make(chan domain.Event)) }()

	select {
	case <-rec.ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

type slowTickStrategy struct {
	recordingStrategy
	started  chan struct{}
	finished atomic.Bool
}

func (s *slowTickStrategy) OnTick(context.Context) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	time.Sleep(50 * time.Millisecond)
	s.finished.Store(true)
}

func TestEngineRunWaitsForRunningTick(t *testing.T) {
	st := state.New("fUSD", discardLogger())
	slow := &slowTickStrategy{started: make(chan struct{}, 1)}
	slow.tick = 5 * time.Millisecond
	e := NewEngine(st, slow, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, make(chan domain.Event)) }()

	select {
	case <-slow.started:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick delivered")
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
	require.True(t, slow.finished.Load())
}

func TestRegistryBuild(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, []string{"replace", "target"}, r.List())

	deps := newFixture().deps
	cfg := testConfig()
	cfg.Name = "target"
	s, err := r.Build(cfg, deps)
	require.NoError(t, err)
	require.Equal(t, "target", s.Name())

	cfg.Name = "nope"
	_, err = r.Build(cfg, deps)
	require.Error(t, err)
}
