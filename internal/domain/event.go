package domain

// EventKind enumerates every state change the gateway can report.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventOfferSnapshot
	EventOfferUpdated
	EventOfferCancelled
	EventBorrowSnapshot
	EventBorrowUpdated
	EventBorrowCancelled
	EventOrderSnapshot
	EventOrderNew
	EventOrderUpdated
	EventOrderCancelled
	EventTradeExecuted
	EventTradeUpdated
	EventWalletSnapshot
	EventWalletUpdated
	EventPositionSnapshot
	EventPositionUpdated
	EventPositionClosed
)

var eventKindNames = map[EventKind]string{
	EventOfferSnapshot:    "offer_snapshot",
	EventOfferUpdated:     "offer_updated",
	EventOfferCancelled:   "offer_cancelled",
	EventBorrowSnapshot:   "borrow_snapshot",
	EventBorrowUpdated:    "borrow_updated",
	EventBorrowCancelled:  "borrow_cancelled",
	EventOrderSnapshot:    "order_snapshot",
	EventOrderNew:         "order_new",
	EventOrderUpdated:     "order_updated",
	EventOrderCancelled:   "order_cancelled",
	EventTradeExecuted:    "trade_executed",
	EventTradeUpdated:     "trade_updated",
	EventWalletSnapshot:   "wallet_snapshot",
	EventWalletUpdated:    "wallet_updated",
	EventPositionSnapshot: "position_snapshot",
	EventPositionUpdated:  "position_updated",
	EventPositionClosed:   "position_closed",
}

func (k EventKind) String() string {
	if s, ok := eventKindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is a single normalized message from the exchange stream.
// Only the payload matching Kind is populated.
type Event struct {
	Kind EventKind

	// Usage scopes a borrow snapshot to the borrows of one usage type.
	// Empty replaces every borrow.
	Usage Usage

	Offer    *Offer
	Borrow   *Borrow
	Order    *Order
	Trade    *Trade
	Wallet   *Wallet
	Position *Position

	Offers    []Offer
	Borrows   []Borrow
	Orders    []Order
	Wallets   []Wallet
	Positions []Position
}
