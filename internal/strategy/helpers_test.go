package strategy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/serial"
	"github.com/alanyoungcy/fundingbot/internal/state"
)

type borrowCall struct {
	Amount float64
	Rate   float64
	Period int
}

type fakeCommander struct {
	mu        sync.Mutex
	nextID    int64
	dryRun    bool
	borrowErr error
	borrows   []borrowCall
	cancelled [][]int64
	returned  []int64

	borrowed chan borrowCall
	release  chan struct{}
	onCancel func(ids []int64)
}

func newFakeCommander() *fakeCommander {
	return &fakeCommander{nextID: 100, borrowed: make(chan borrowCall, 16)}
}

func (f *fakeCommander) Borrow(_ context.Context, amount, rate float64, period int) (domain.Order, error) {
	call := borrowCall{Amount: amount, Rate: rate, Period: period}
	f.mu.Lock()
	f.borrows = append(f.borrows, call)
	f.nextID++
	id := f.nextID
	err, dry, release := f.borrowErr, f.dryRun, f.release
	f.mu.Unlock()

	f.borrowed <- call
	if release != nil {
		<-release
	}
	if err != nil {
		return domain.Order{}, err
	}
	if dry {
		return domain.Order{}, nil
	}
	return domain.Order{ID: id, Symbol: "fUSD", Amount: -amount, AmountRemaining: -amount, Rate: rate, Period: period}, nil
}

func (f *fakeCommander) CancelOffers(_ context.Context, ids []int64) error {
	f.mu.Lock()
	f.cancelled = append(f.cancelled, append([]int64(nil), ids...))
	hook := f.onCancel
	f.mu.Unlock()
	if hook != nil {
		hook(ids)
	}
	return nil
}

func (f *fakeCommander) ReturnBorrow(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returned = append(f.returned, id)
	return nil
}

func (f *fakeCommander) ReturnManyBorrows(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.returned = append(f.returned, ids...)
	return nil
}

func (f *fakeCommander) borrowCalls() []borrowCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]borrowCall(nil), f.borrows...)
}

func (f *fakeCommander) cancelCalls() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int64(nil), f.cancelled...)
}

func (f *fakeCommander) returnedIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.returned...)
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []domain.Replacement
}

func (f *fakeRecorder) RecordReplacement(_ context.Context, r domain.Replacement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

func (f *fakeRecorder) all() []domain.Replacement {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Replacement(nil), f.records...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		Period:            2,
		MinImprovement:    0.00001,
		MinBorrowSize:     150,
		ReturnTolerance:   0.01,
		Cooldown:          time.Minute,
		FillPollAttempts:  1000,
		FillPollInterval:  time.Millisecond,
		DrainPollAttempts: 200,
		DrainPollInterval: time.Millisecond,
		TargetRates:       []float64{20, 30},
	}
}

type fixture struct {
	store    *state.Store
	cmd      *fakeCommander
	recorder *fakeRecorder
	deps     Deps
}

func newFixture() *fixture {
	st := state.New("fUSD", discardLogger())
	cmd := newFakeCommander()
	rec := &fakeRecorder{}
	return &fixture{
		store:    st,
		cmd:      cmd,
		recorder: rec,
		deps: Deps{
			State:     st,
			Commander: cmd,
			Lock:      serial.New(),
			Recorder:  rec,
			Logger:    discardLogger(),
		},
	}
}

func (f *fixture) borrows(bs ...domain.Borrow) {
	for i := range bs {
		bs[i].Symbol = "fUSD"
		if bs[i].Usage == "" {
			bs[i].Usage = domain.UsageUsing
		}
	}
	f.store.Apply(domain.Event{Kind: domain.EventBorrowSnapshot, Borrows: bs})
}

func (f *fixture) offers(os ...domain.Offer) {
	for i := range os {
		if os[i].Count == 0 {
			os[i].Count = 1
		}
	}
	f.store.Apply(domain.Event{Kind: domain.EventOfferSnapshot, Offers: os})
}

func (f *fixture) order(kind domain.EventKind, o domain.Order) domain.Order {
	o.Symbol = "fUSD"
	f.store.Apply(domain.Event{Kind: kind, Order: &o})
	return o
}
