package domain

import "time"

// BorrowSide is the side of a funding contract from the account's view.
type BorrowSide string

const (
	BorrowSideBorrower BorrowSide = "borrower"
	BorrowSideLender   BorrowSide = "lender"
	BorrowSideBoth     BorrowSide = "both"
)

// Usage says whether borrowed funds back an open position.
type Usage string

const (
	UsageUsing  Usage = "using"
	UsageUnused Usage = "unused"
)

// Borrow is an active funding contract held by the account.
type Borrow struct {
	ID        int64
	Symbol    string
	Side      BorrowSide
	Usage     Usage
	Rate      float64 // daily rate as a fraction
	Period    int     // days
	Amount    float64 // always positive
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpiresAt is the creation time plus the funding period.
func (b Borrow) ExpiresAt() time.Time {
	return b.CreatedAt.Add(time.Duration(b.Period) * 24 * time.Hour)
}

// SumAmount totals the amount of the given borrows.
func SumAmount(borrows []Borrow) float64 {
	var total float64
	for _, b := range borrows {
		total += b.Amount
	}
	return total
}

// BorrowIDs returns the ids of the given borrows in order.
func BorrowIDs(borrows []Borrow) []int64 {
	ids := make([]int64, 0, len(borrows))
	for _, b := range borrows {
		ids = append(ids, b.ID)
	}
	return ids
}

// Totals holds the running borrowed amounts per usage type.
type Totals struct {
	NetUsing  float64
	NetUnused float64
}
