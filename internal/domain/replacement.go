package domain

import "time"

// PendingReplacement tracks one in-flight borrow-then-return operation.
type PendingReplacement struct {
	ID           string
	Strategy     string
	OrderIDs     map[int64]struct{}
	ToReplace    []Borrow
	TargetAmount float64
	TargetRate   float64
	FilledCount  int
	FilledAmount float64
	StartedAt    time.Time
}

// Has reports whether the order belongs to this replacement.
func (p PendingReplacement) Has(orderID int64) bool {
	_, ok := p.OrderIDs[orderID]
	return ok
}

// ReplacementOutcome describes how a replacement ended.
type ReplacementOutcome string

const (
	OutcomeReplaced ReplacementOutcome = "replaced"
	OutcomeUnfilled ReplacementOutcome = "unfilled"
	OutcomeFailed   ReplacementOutcome = "failed"
	OutcomeDryRun   ReplacementOutcome = "dry_run"
)

// Replacement is the persisted record of a finished replacement.
type Replacement struct {
	ID           string
	Strategy     string
	Symbol       string
	TargetAmount float64
	TargetRate   float64
	FilledAmount float64
	ReplacedIDs  []int64
	ReturnedIDs  []int64
	Outcome      ReplacementOutcome
	StartedAt    time.Time
	CompletedAt  time.Time
}
