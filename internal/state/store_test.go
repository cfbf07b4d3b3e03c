package state

import (
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

func newTestStore() *Store {
	return New("fUSD", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func borrowEvent(kind domain.EventKind, b domain.Borrow) domain.Event {
	return domain.Event{Kind: kind, Borrow: &b}
}

func TestBorrowUpdatesKeepTotalsConsistent(t *testing.T) {
	s := newTestStore()
	rng := rand.New(rand.NewSource(7))
	usages := []domain.Usage{domain.UsageUsing, domain.UsageUnused}

	for i := 0; i < 500; i++ {
		id := int64(rng.Intn(20))
		b := domain.Borrow{
			ID:     id,
			Symbol: "fUSD",
			Usage:  usages[rng.Intn(2)],
			Rate:   float64(rng.Intn(50)+1) / 1e5,
			Amount: float64(rng.Intn(1000) + 1),
		}
		kind := domain.EventBorrowUpdated
		if rng.Intn(4) == 0 {
			kind = domain.EventBorrowCancelled
		}
		_, ok := s.Apply(borrowEvent(kind, b))
		require.True(t, ok)

		got := s.Totals()
		want := deriveTotals(s.Borrows())
		require.InDelta(t, want.NetUsing, got.NetUsing, 1e-6)
		require.InDelta(t, want.NetUnused, got.NetUnused, 1e-6)
	}
}

func TestBorrowUpdateReplacesExistingEntry(t *testing.T) {
	s := newTestStore()
	s.Apply(borrowEvent(domain.EventBorrowUpdated, domain.Borrow{ID: 1, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 100, Rate: 0.0002}))
	s.Apply(borrowEvent(domain.EventBorrowUpdated, domain.Borrow{ID: 1, Symbol: "fUSD", Usage: domain.UsageUnused, Amount: 40, Rate: 0.0002}))

	require.Len(t, s.Borrows(), 1)
	require.Equal(t, domain.Totals{NetUsing: 0, NetUnused: 40}, s.Totals())
}

func TestUsageSnapshotReplacesOnlyItsHalf(t *testing.T) {
	s := newTestStore()
	s.Apply(domain.Event{Kind: domain.EventBorrowSnapshot, Usage: domain.UsageUnused, Borrows: []domain.Borrow{
		{ID: 2, Symbol: "fUSD", Usage: domain.UsageUnused, Amount: 200, Rate: 0.0001},
	}})
	s.Apply(domain.Event{Kind: domain.EventBorrowSnapshot, Usage: domain.UsageUsing, Borrows: []domain.Borrow{
		{ID: 1, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 100, Rate: 0.0003},
	}})
	require.Len(t, s.Borrows(), 2)
	require.Equal(t, domain.Totals{NetUsing: 100, NetUnused: 200}, s.Totals())

	// A fresh credits snapshot after reconnecting keeps the loans.
	norm, ok := s.Apply(domain.Event{Kind: domain.EventBorrowSnapshot, Usage: domain.UsageUsing, Borrows: []domain.Borrow{
		{ID: 3, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 50, Rate: 0.0004},
	}})
	require.True(t, ok)
	require.Equal(t, []int64{3, 2}, domain.BorrowIDs(norm.Borrows))
	require.Equal(t, domain.Totals{NetUsing: 50, NetUnused: 200}, s.Totals())

	s.Apply(domain.Event{Kind: domain.EventBorrowSnapshot, Borrows: nil})
	require.Empty(t, s.Borrows())
	require.Zero(t, s.Totals())
}

func TestCancelUnknownBorrowIsIgnored(t *testing.T) {
	s := newTestStore()
	s.Apply(borrowEvent(domain.EventBorrowUpdated, domain.Borrow{ID: 1, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 100}))
	s.Apply(borrowEvent(domain.EventBorrowCancelled, domain.Borrow{ID: 9, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 100}))

	require.Equal(t, 100.0, s.Totals().NetUsing)
}

func TestBorrowsSortedWorstRateFirst(t *testing.T) {
	s := newTestStore()
	s.Apply(domain.Event{Kind: domain.EventBorrowSnapshot, Borrows: []domain.Borrow{
		{ID: 1, Symbol: "fUSD", Rate: 0.0001, Amount: 10, Usage: domain.UsageUsing},
		{ID: 2, Symbol: "fUSD", Rate: 0.0003, Amount: 10, Usage: domain.UsageUsing},
		{ID: 3, Symbol: "fUSD", Rate: 0.0002, Amount: 10, Usage: domain.UsageUnused},
		{ID: 4, Symbol: "fEUR", Rate: 0.0009, Amount: 10, Usage: domain.UsageUnused},
	}})

	require.Equal(t, []int64{2, 3, 1}, domain.BorrowIDs(s.Borrows()))
	require.Equal(t, domain.Totals{NetUsing: 20, NetUnused: 10}, s.Totals())
}

func TestOffersStaySortedAndUniqueByRate(t *testing.T) {
	s := newTestStore()
	rng := rand.New(rand.NewSource(11))

	for i := 0; i < 400; i++ {
		o := domain.Offer{
			Rate:   float64(rng.Intn(30)+1) / 1e5,
			Period: rng.Intn(30) + 2,
			Count:  rng.Intn(3),
			Amount: float64(rng.Intn(5000) + 1),
		}
		s.Apply(domain.Event{Kind: domain.EventOfferUpdated, Offer: &o})

		offers := s.Offers()
		seen := make(map[float64]bool, len(offers))
		for j, cur := range offers {
			require.False(t, seen[cur.Rate], "duplicate rate %v", cur.Rate)
			seen[cur.Rate] = true
			require.Positive(t, cur.Count)
			if j == 0 {
				continue
			}
			prev := offers[j-1]
			require.True(t, prev.Rate < cur.Rate || (prev.Rate == cur.Rate && prev.Period >= cur.Period))
		}
	}
}

func TestOfferCountZeroRemovesLevel(t *testing.T) {
	s := newTestStore()
	s.Apply(domain.Event{Kind: domain.EventOfferSnapshot, Offers: []domain.Offer{
		{Rate: 0.0002, Period: 2, Count: 1, Amount: 60},
		{Rate: 0.0001, Period: 2, Count: 3, Amount: 50},
		{Rate: 0.0003, Period: 2, Count: 2, Amount: -70},
	}})
	require.Len(t, s.Offers(), 2)
	require.Equal(t, 0.0001, s.Offers()[0].Rate)

	ev, ok := s.Apply(domain.Event{Kind: domain.EventOfferUpdated, Offer: &domain.Offer{Rate: 0.0001, Period: 2, Count: 0, Amount: 1}})
	require.True(t, ok)
	require.Equal(t, domain.EventOfferCancelled, ev.Kind)
	require.Len(t, s.Offers(), 1)
	require.Equal(t, 0.0002, s.Offers()[0].Rate)
}

func TestOrderLifecycle(t *testing.T) {
	s := newTestStore()
	o := domain.Order{ID: 5, Symbol: "fUSD", Amount: -100, AmountRemaining: -100}
	s.Apply(domain.Event{Kind: domain.EventOrderNew, Order: &o})

	o.AmountRemaining = -40
	s.Apply(domain.Event{Kind: domain.EventOrderUpdated, Order: &o})
	got, ok := s.Order(5)
	require.True(t, ok)
	require.Equal(t, 60.0, got.Filled())
	require.Len(t, s.Orders(), 1)

	norm, ok := s.Apply(domain.Event{Kind: domain.EventOrderCancelled, Order: &o})
	require.True(t, ok)
	require.True(t, norm.Order.Closed)
	require.Equal(t, 60.0, norm.Order.Filled())
	require.False(t, o.Closed)
	require.Empty(t, s.Orders())
}

func TestNilPayloadIsRejected(t *testing.T) {
	s := newTestStore()
	for _, kind := range []domain.EventKind{
		domain.EventOfferUpdated, domain.EventBorrowUpdated, domain.EventOrderNew,
		domain.EventWalletUpdated, domain.EventPositionClosed, domain.EventUnknown,
	} {
		_, ok := s.Apply(domain.Event{Kind: kind})
		require.False(t, ok, kind.String())
	}
}

func TestRecomputeMatchesRunningTotals(t *testing.T) {
	s := newTestStore()
	s.Apply(borrowEvent(domain.EventBorrowUpdated, domain.Borrow{ID: 1, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 0.1}))
	s.Apply(borrowEvent(domain.EventBorrowUpdated, domain.Borrow{ID: 2, Symbol: "fUSD", Usage: domain.UsageUsing, Amount: 0.2}))
	running := s.Totals()
	derived := s.Recompute()
	require.LessOrEqual(t, math.Abs(running.NetUsing-derived.NetUsing), 1e-9)
}

func TestWalletsAndPositions(t *testing.T) {
	s := newTestStore()
	s.Apply(domain.Event{Kind: domain.EventWalletSnapshot, Wallets: []domain.Wallet{
		{Type: "margin", Currency: "USD", Balance: 10},
		{Type: "funding", Currency: "USD", Balance: 5},
	}})
	s.Apply(domain.Event{Kind: domain.EventWalletUpdated, Wallet: &domain.Wallet{Type: "margin", Currency: "USD", Balance: 12}})
	wallets := s.Wallets()
	require.Len(t, wallets, 2)
	require.Equal(t, 12.0, wallets[1].Balance)

	s.Apply(domain.Event{Kind: domain.EventPositionUpdated, Position: &domain.Position{Symbol: "tBTCUSD", Amount: 0.5}})
	require.Len(t, s.Positions(), 1)
	s.Apply(domain.Event{Kind: domain.EventPositionClosed, Position: &domain.Position{Symbol: "tBTCUSD"}})
	require.Empty(t, s.Positions())
}
