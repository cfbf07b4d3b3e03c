package domain

import (
	"math"
	"time"
)

// Order is one of the account's own funding offers on the exchange.
// A negative Amount is a request to borrow.
type Order struct {
	ID              int64
	Symbol          string
	Amount          float64
	AmountRemaining float64
	Rate            float64
	Period          int
	Type            string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Closed is set on the order carried by a cancel event; the order is
	// gone from the store by the time strategies see it.
	Closed bool
}

// IsBorrow reports whether the order asks for funding.
func (o Order) IsBorrow() bool {
	return o.Amount < 0
}

// Filled is the quantity already matched.
func (o Order) Filled() float64 {
	f := math.Abs(o.Amount) - math.Abs(o.AmountRemaining)
	if f < 0 {
		return 0
	}
	return f
}
