package domain

// Wallet is a balance the exchange reports for the account.
type Wallet struct {
	Type      string // exchange, margin, funding
	Currency  string
	Balance   float64
	Available float64
}
