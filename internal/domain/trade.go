package domain

import "time"

// Trade is an execution against one of the account's funding offers.
type Trade struct {
	ID         int64
	OfferID    int64
	Symbol     string
	Amount     float64
	Rate       float64
	Period     int
	Maker      bool
	ExecutedAt time.Time
}
