// Package report builds periodic human-readable summaries of the funding
// state and fans them out to logs, operators and storage.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/strategy"
)

// Source is the read side of the state store a summary is built from.
type Source interface {
	Symbol() string
	Borrows() []domain.Borrow
	Offers() []domain.Offer
	Orders() []domain.Order
	Wallets() []domain.Wallet
	Positions() []domain.Position
	Totals() domain.Totals
}

// expiringWindow marks borrows that end within a day.
const expiringWindow = 24 * time.Hour

// Summary is a point-in-time view of one funding symbol.
type Summary struct {
	Symbol      string    `json:"symbol"`
	GeneratedAt time.Time `json:"generated_at"`

	Borrows   int     `json:"borrows"`
	NetUsing  float64 `json:"net_using"`
	NetUnused float64 `json:"net_unused"`
	Total     float64 `json:"total"`

	// Rates are daily fractions; APRs are annual percentages.
	WeightedRate float64 `json:"weighted_rate"`
	WeightedAPR  float64 `json:"weighted_apr"`
	MinRate      float64 `json:"min_rate"`
	MaxRate      float64 `json:"max_rate"`
	DailyCost    float64 `json:"daily_cost"`

	ExpiringSoon int        `json:"expiring_soon"`
	NextExpiry   *time.Time `json:"next_expiry,omitempty"`

	BestOfferRate float64 `json:"best_offer_rate"`
	BestOfferAPR  float64 `json:"best_offer_apr"`
	BookLevels    int     `json:"book_levels"`
	BookDepth     float64 `json:"book_depth"`

	OpenOrders    int     `json:"open_orders"`
	PendingBorrow float64 `json:"pending_borrow"`

	Wallets   []WalletView     `json:"wallets,omitempty"`
	Positions []PositionView   `json:"positions,omitempty"`
	Strategy  *strategy.Status `json:"strategy,omitempty"`
}

// WalletView is a wallet balance in a summary.
type WalletView struct {
	Type      string  `json:"type"`
	Currency  string  `json:"currency"`
	Balance   float64 `json:"balance"`
	Available float64 `json:"available"`
}

// PositionView is an open margin position in a summary.
type PositionView struct {
	Symbol    string  `json:"symbol"`
	Status    string  `json:"status"`
	Amount    float64 `json:"amount"`
	BasePrice float64 `json:"base_price"`
}

// Build computes a Summary from src. status may be nil when no strategy
// is running.
func Build(src Source, status *strategy.Status, now time.Time) Summary {
	s := Summary{
		Symbol:      src.Symbol(),
		GeneratedAt: now.UTC(),
		Strategy:    status,
	}

	totals := src.Totals()
	s.NetUsing = round(totals.NetUsing, 8)
	s.NetUnused = round(totals.NetUnused, 8)
	s.Total = round(totals.NetUsing+totals.NetUnused, 8)

	borrows := src.Borrows()
	s.Borrows = len(borrows)
	var weighted, amount float64
	for i, b := range borrows {
		weighted += b.Rate * b.Amount
		amount += b.Amount
		if i == 0 || b.Rate < s.MinRate {
			s.MinRate = b.Rate
		}
		if b.Rate > s.MaxRate {
			s.MaxRate = b.Rate
		}
		if b.Period <= 0 || b.CreatedAt.IsZero() {
			continue
		}
		exp := b.ExpiresAt()
		if exp.Sub(now) <= expiringWindow {
			s.ExpiringSoon++
		}
		if s.NextExpiry == nil || exp.Before(*s.NextExpiry) {
			e := exp.UTC()
			s.NextExpiry = &e
		}
	}
	if amount > 0 {
		s.WeightedRate = round(weighted/amount, 8)
		s.WeightedAPR = round(domain.DailyToAnnual(weighted/amount), 4)
	}
	s.DailyCost = round(weighted, 8)

	offers := src.Offers()
	s.BookLevels = len(offers)
	if len(offers) > 0 {
		s.BestOfferRate = offers[0].Rate
		s.BestOfferAPR = round(domain.DailyToAnnual(offers[0].Rate), 4)
	}
	var depth float64
	for _, o := range offers {
		depth += o.Amount
	}
	s.BookDepth = round(depth, 8)

	orders := src.Orders()
	s.OpenOrders = len(orders)
	var pending float64
	for _, o := range orders {
		if o.IsBorrow() {
			pending += abs(o.AmountRemaining)
		}
	}
	s.PendingBorrow = round(pending, 8)

	for _, w := range src.Wallets() {
		s.Wallets = append(s.Wallets, WalletView{
			Type:      w.Type,
			Currency:  w.Currency,
			Balance:   round(w.Balance, 8),
			Available: round(w.Available, 8),
		})
	}
	sort.Slice(s.Wallets, func(i, j int) bool {
		if s.Wallets[i].Type != s.Wallets[j].Type {
			return s.Wallets[i].Type < s.Wallets[j].Type
		}
		return s.Wallets[i].Currency < s.Wallets[j].Currency
	})

	for _, p := range src.Positions() {
		s.Positions = append(s.Positions, PositionView{
			Symbol:    p.Symbol,
			Status:    p.Status,
			Amount:    round(p.Amount, 8),
			BasePrice: p.BasePrice,
		})
	}
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Symbol < s.Positions[j].Symbol })

	return s
}

// Title is the one-line headline used for notifications.
func (s Summary) Title() string {
	return fmt.Sprintf("%s report: %s borrowed at %s%% APR",
		s.Symbol, fixed(s.Total, 2), fixed(s.WeightedAPR, 2))
}

// Text renders the summary for humans.
func (s Summary) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s funding report at %s\n", s.Symbol, s.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "borrowed: %s (using %s, unused %s) across %d contracts\n",
		fixed(s.Total, 2), fixed(s.NetUsing, 2), fixed(s.NetUnused, 2), s.Borrows)
	if s.Borrows > 0 {
		fmt.Fprintf(&b, "rate: %s%% APR weighted, %s to %s daily, cost %s/day\n",
			fixed(s.WeightedAPR, 2), fixed(s.MinRate, 6), fixed(s.MaxRate, 6), fixed(s.DailyCost, 4))
	}
	if s.NextExpiry != nil {
		fmt.Fprintf(&b, "expiry: next %s, %d within 24h\n", s.NextExpiry.Format(time.RFC3339), s.ExpiringSoon)
	}
	if s.BookLevels > 0 {
		fmt.Fprintf(&b, "book: best %s%% APR, %d levels, depth %s\n",
			fixed(s.BestOfferAPR, 2), s.BookLevels, fixed(s.BookDepth, 2))
	} else {
		b.WriteString("book: empty\n")
	}
	if s.OpenOrders > 0 {
		fmt.Fprintf(&b, "orders: %d open, %s pending borrow\n", s.OpenOrders, fixed(s.PendingBorrow, 2))
	}
	for _, w := range s.Wallets {
		fmt.Fprintf(&b, "wallet %s %s: %s (available %s)\n",
			w.Type, w.Currency, fixed(w.Balance, 2), fixed(w.Available, 2))
	}
	for _, p := range s.Positions {
		fmt.Fprintf(&b, "position %s %s: %s @ %s\n", p.Symbol, p.Status, fixed(p.Amount, 4), fixed(p.BasePrice, 4))
	}
	if st := s.Strategy; st != nil {
		fmt.Fprintf(&b, "strategy %s", st.Name)
		if st.Pending != nil {
			b.WriteString(", replacement pending")
		}
		if !st.PausedUntil.IsZero() && st.PausedUntil.After(s.GeneratedAt) {
			fmt.Fprintf(&b, ", paused until %s", st.PausedUntil.UTC().Format(time.RFC3339))
		}
		if st.PendingReturn > 0 {
			fmt.Fprintf(&b, ", %s awaiting return", fixed(st.PendingReturn, 2))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

func fixed(v float64, places int32) string {
	return decimal.NewFromFloat(v).StringFixed(places)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
