// Package state holds the account and market state mirrored from the
// exchange stream for a single funding symbol.
package state

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Store is the in-memory mirror of borrows, the public funding book, own
// orders, wallets and positions. Apply is called from a single goroutine;
// the accessors are safe for concurrent use and return copies.
type Store struct {
	symbol string
	logger *slog.Logger

	mu        sync.RWMutex
	borrows   []domain.Borrow
	offers    []domain.Offer
	orders    []domain.Order
	wallets   map[string]domain.Wallet
	positions map[string]domain.Position
	totals    domain.Totals
}

// New creates an empty Store for symbol.
func New(symbol string, logger *slog.Logger) *Store {
	return &Store{
		symbol:    symbol,
		logger:    logger.With(slog.String("component", "state")),
		wallets:   make(map[string]domain.Wallet),
		positions: make(map[string]domain.Position),
	}
}

// Symbol returns the funding symbol this store tracks.
func (s *Store) Symbol() string { return s.symbol }

// Apply mutates exactly one collection according to ev and returns the
// normalized event. It returns false when ev is ignored.
func (s *Store) Apply(ev domain.Event) (domain.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case domain.EventOfferSnapshot:
		s.offers = s.offers[:0]
		for _, o := range ev.Offers {
			if o.Count > 0 && o.Amount > 0 {
				s.offers = append(s.offers, o)
			}
		}
		sortOffers(s.offers)
		ev.Offers = cloneSlice(s.offers)
		return ev, true

	case domain.EventOfferUpdated, domain.EventOfferCancelled:
		if ev.Offer == nil {
			return s.reject(ev)
		}
		s.removeOfferAt(ev.Offer.Rate)
		if ev.Kind == domain.EventOfferUpdated && ev.Offer.Count > 0 && ev.Offer.Amount > 0 {
			s.offers = append(s.offers, *ev.Offer)
			sortOffers(s.offers)
		} else {
			ev.Kind = domain.EventOfferCancelled
		}
		return ev, true

	case domain.EventBorrowSnapshot:
		kept := s.borrows[:0]
		if ev.Usage != "" {
			for _, b := range s.borrows {
				if b.Usage != ev.Usage {
					kept = append(kept, b)
				}
			}
		}
		s.borrows = kept
		for _, b := range ev.Borrows {
			if b.Symbol == s.symbol && (ev.Usage == "" || b.Usage == ev.Usage) {
				s.borrows = append(s.borrows, b)
			}
		}
		sortBorrows(s.borrows)
		s.totals = deriveTotals(s.borrows)
		ev.Borrows = cloneSlice(s.borrows)
		return ev, true

	case domain.EventBorrowUpdated:
		if ev.Borrow == nil || ev.Borrow.Symbol != s.symbol {
			return s.reject(ev)
		}
		s.removeBorrow(ev.Borrow.ID)
		s.borrows = append(s.borrows, *ev.Borrow)
		s.addTotal(*ev.Borrow, 1)
		sortBorrows(s.borrows)
		return ev, true

	case domain.EventBorrowCancelled:
		if ev.Borrow == nil || ev.Borrow.Symbol != s.symbol {
			return s.reject(ev)
		}
		if _, ok := s.removeBorrow(ev.Borrow.ID); !ok {
			s.logger.Debug("cancel for unknown borrow", slog.Int64("id", ev.Borrow.ID))
		}
		return ev, true

	case domain.EventOrderSnapshot:
		s.orders = s.orders[:0]
		for _, o := range ev.Orders {
			if o.Symbol == s.symbol {
				s.orders = append(s.orders, o)
			}
		}
		ev.Orders = cloneSlice(s.orders)
		return ev, true

	case domain.EventOrderNew, domain.EventOrderUpdated:
		if ev.Order == nil || ev.Order.Symbol != s.symbol {
			return s.reject(ev)
		}
		s.removeOrder(ev.Order.ID)
		s.orders = append(s.orders, *ev.Order)
		return ev, true

	case domain.EventOrderCancelled:
		if ev.Order == nil || ev.Order.Symbol != s.symbol {
			return s.reject(ev)
		}
		s.removeOrder(ev.Order.ID)
		closed := *ev.Order
		closed.Closed = true
		ev.Order = &closed
		return ev, true

	case domain.EventTradeExecuted, domain.EventTradeUpdated:
		if ev.Trade == nil || ev.Trade.Symbol != s.symbol {
			return s.reject(ev)
		}
		return ev, true

	case domain.EventWalletSnapshot:
		clear(s.wallets)
		for _, w := range ev.Wallets {
			s.wallets[walletKey(w)] = w
		}
		return ev, true

	case domain.EventWalletUpdated:
		if ev.Wallet == nil {
			return s.reject(ev)
		}
		s.wallets[walletKey(*ev.Wallet)] = *ev.Wallet
		return ev, true

	case domain.EventPositionSnapshot:
		clear(s.positions)
		for _, p := range ev.Positions {
			s.positions[p.Symbol] = p
		}
		return ev, true

	case domain.EventPositionUpdated:
		if ev.Position == nil {
			return s.reject(ev)
		}
		s.positions[ev.Position.Symbol] = *ev.Position
		return ev, true

	case domain.EventPositionClosed:
		if ev.Position == nil {
			return s.reject(ev)
		}
		delete(s.positions, ev.Position.Symbol)
		return ev, true
	}

	return s.reject(ev)
}

func (s *Store) reject(ev domain.Event) (domain.Event, bool) {
	s.logger.Debug("event ignored", slog.String("kind", ev.Kind.String()))
	return ev, false
}

// Borrows returns the borrows sorted worst rate first.
func (s *Store) Borrows() []domain.Borrow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.borrows)
}

// Borrow looks up a single borrow by id.
func (s *Store) Borrow(id int64) (domain.Borrow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.borrows {
		if b.ID == id {
			return b, true
		}
	}
	return domain.Borrow{}, false
}

// Offers returns the funding book sorted cheapest first.
func (s *Store) Offers() []domain.Offer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.offers)
}

// Orders returns the account's open funding offers.
func (s *Store) Orders() []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSlice(s.orders)
}

// Order looks up a single open order by id.
func (s *Store) Order(id int64) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.ID == id {
			return o, true
		}
	}
	return domain.Order{}, false
}

// Wallets returns the known wallet balances.
func (s *Store) Wallets() []domain.Wallet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Wallet, 0, len(s.wallets))
	for _, w := range s.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return walletKey(out[i]) < walletKey(out[j]) })
	return out
}

// Positions returns the open margin positions.
func (s *Store) Positions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Totals returns the running netUsing and netUnused amounts.
func (s *Store) Totals() domain.Totals {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totals
}

// Recompute derives the totals from the current borrows, replaces the
// running values and returns them.
func (s *Store) Recompute() domain.Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totals = deriveTotals(s.borrows)
	return s.totals
}

func (s *Store) removeBorrow(id int64) (domain.Borrow, bool) {
	for i, b := range s.borrows {
		if b.ID == id {
			s.borrows = append(s.borrows[:i], s.borrows[i+1:]...)
			s.addTotal(b, -1)
			return b, true
		}
	}
	return domain.Borrow{}, false
}

func (s *Store) addTotal(b domain.Borrow, sign float64) {
	switch b.Usage {
	case domain.UsageUsing:
		s.totals.NetUsing += sign * b.Amount
	case domain.UsageUnused:
		s.totals.NetUnused += sign * b.Amount
	}
}

func (s *Store) removeOfferAt(rate float64) {
	for i, o := range s.offers {
		if o.Rate == rate {
			s.offers = append(s.offers[:i], s.offers[i+1:]...)
			return
		}
	}
}

func (s *Store) removeOrder(id int64) {
	for i, o := range s.orders {
		if o.ID == id {
			s.orders = append(s.orders[:i], s.orders[i+1:]...)
			return
		}
	}
}

func deriveTotals(borrows []domain.Borrow) domain.Totals {
	var t domain.Totals
	for _, b := range borrows {
		switch b.Usage {
		case domain.UsageUsing:
			t.NetUsing += b.Amount
		case domain.UsageUnused:
			t.NetUnused += b.Amount
		}
	}
	return t
}

func sortBorrows(borrows []domain.Borrow) {
	sort.SliceStable(borrows, func(i, j int) bool {
		a, b := borrows[i], borrows[j]
		if a.Rate != b.Rate {
			return a.Rate > b.Rate
		}
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		return a.ID < b.ID
	})
}

func sortOffers(offers []domain.Offer) {
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].Rate != offers[j].Rate {
			return offers[i].Rate < offers[j].Rate
		}
		return offers[i].Period > offers[j].Period
	})
}

func walletKey(w domain.Wallet) string {
	return w.Type + ":" + w.Currency
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
