package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/report"
)

// FundingState is the read side of the state store.
type FundingState interface {
	Symbol() string
	Borrows() []domain.Borrow
	Offers() []domain.Offer
	Orders() []domain.Order
	Wallets() []domain.Wallet
	Positions() []domain.Position
	Totals() domain.Totals
}

// FundingHandler serves snapshots of the live funding state.
type FundingHandler struct {
	state FundingState
}

// NewFundingHandler creates a FundingHandler.
func NewFundingHandler(state FundingState) *FundingHandler {
	return &FundingHandler{state: state}
}

type borrowView struct {
	ID        int64     `json:"id"`
	Side      string    `json:"side"`
	Usage     string    `json:"usage"`
	Rate      float64   `json:"rate"`
	APR       float64   `json:"apr"`
	Period    int       `json:"period"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type listBorrowsResponse struct {
	Symbol    string       `json:"symbol"`
	NetUsing  float64      `json:"net_using"`
	NetUnused float64      `json:"net_unused"`
	Borrows   []borrowView `json:"borrows"`
}

// ListBorrows returns the active funding contracts and running totals.
// GET /api/borrows
func (h *FundingHandler) ListBorrows(w http.ResponseWriter, r *http.Request) {
	borrows := h.state.Borrows()
	totals := h.state.Totals()
	resp := listBorrowsResponse{
		Symbol:    h.state.Symbol(),
		NetUsing:  totals.NetUsing,
		NetUnused: totals.NetUnused,
		Borrows:   make([]borrowView, 0, len(borrows)),
	}
	for _, b := range borrows {
		resp.Borrows = append(resp.Borrows, borrowView{
			ID:        b.ID,
			Side:      string(b.Side),
			Usage:     string(b.Usage),
			Rate:      b.Rate,
			APR:       domain.DailyToAnnual(b.Rate),
			Period:    b.Period,
			Amount:    b.Amount,
			Status:    b.Status,
			CreatedAt: b.CreatedAt,
			ExpiresAt: b.ExpiresAt(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type offerView struct {
	Rate   float64 `json:"rate"`
	APR    float64 `json:"apr"`
	Period int     `json:"period"`
	Count  int     `json:"count"`
	Amount float64 `json:"amount"`
}

// ListOffers returns the funding book, cheapest first.
// GET /api/offers?limit=N
func (h *FundingHandler) ListOffers(w http.ResponseWriter, r *http.Request) {
	offers := h.state.Offers()
	if opts := parseListOpts(r); opts.Limit < len(offers) {
		offers = offers[:opts.Limit]
	}
	views := make([]offerView, 0, len(offers))
	for _, o := range offers {
		views = append(views, offerView{
			Rate:   o.Rate,
			APR:    domain.DailyToAnnual(o.Rate),
			Period: o.Period,
			Count:  o.Count,
			Amount: o.Amount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": h.state.Symbol(), "offers": views})
}

type orderView struct {
	ID              int64     `json:"id"`
	Amount          float64   `json:"amount"`
	AmountRemaining float64   `json:"amount_remaining"`
	Filled          float64   `json:"filled"`
	Rate            float64   `json:"rate"`
	Period          int       `json:"period"`
	Type            string    `json:"type,omitempty"`
	Status          string    `json:"status,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ListOrders returns the account's open funding orders.
// GET /api/orders
func (h *FundingHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.state.Orders()
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, orderView{
			ID:              o.ID,
			Amount:          o.Amount,
			AmountRemaining: o.AmountRemaining,
			Filled:          o.Filled(),
			Rate:            o.Rate,
			Period:          o.Period,
			Type:            o.Type,
			Status:          o.Status,
			CreatedAt:       o.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": h.state.Symbol(), "orders": views})
}

// ListWallets returns the account's wallet balances.
// GET /api/wallets
func (h *FundingHandler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets := h.state.Wallets()
	views := make([]report.WalletView, 0, len(wallets))
	for _, wl := range wallets {
		views = append(views, report.WalletView{
			Type:      wl.Type,
			Currency:  wl.Currency,
			Balance:   wl.Balance,
			Available: wl.Available,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"wallets": views})
}

// ListPositions returns the account's margin positions.
// GET /api/positions
func (h *FundingHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.state.Positions()
	views := make([]report.PositionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, report.PositionView{
			Symbol:    p.Symbol,
			Status:    p.Status,
			Amount:    p.Amount,
			BasePrice: p.BasePrice,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": views})
}
