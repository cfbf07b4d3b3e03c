package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Strategy reacts to state changes of a single funding symbol. Every method
// is called from the engine loop in event order; long running work is
// started on its own goroutine and tracked until Wait returns.
type Strategy interface {
	Name() string
	OnOfferChanged(ctx context.Context)
	OnBorrowChanged(ctx context.Context)
	OnOrderChanged(ctx context.Context, order domain.Order)
	OnTrade(ctx context.Context, trade domain.Trade)
	OnTick(ctx context.Context)
	// TickInterval is zero for strategies that do not need OnTick.
	TickInterval() time.Duration
	Status(ctx context.Context) Status
	Wait()
}

// Commander issues funding commands to the exchange. Implementations log
// and return errors; a failed command is treated as having no effect.
type Commander interface {
	Borrow(ctx context.Context, amount, rate float64, period int) (domain.Order, error)
	CancelOffers(ctx context.Context, ids []int64) error
	ReturnBorrow(ctx context.Context, id int64) error
	ReturnManyBorrows(ctx context.Context, ids []int64) error
}

// StateReader is the read side of the state store.
type StateReader interface {
	Symbol() string
	Borrows() []domain.Borrow
	Offers() []domain.Offer
	Orders() []domain.Order
	Order(id int64) (domain.Order, bool)
}

// Recorder receives finished replacements.
type Recorder interface {
	RecordReplacement(ctx context.Context, r domain.Replacement)
}

// Config holds the parameters shared by all funding strategies.
type Config struct {
	Name            string
	Period          int
	MinImprovement  float64
	MinBorrowSize   float64
	ReturnTolerance float64
	Cooldown        time.Duration

	FillPollAttempts  int
	FillPollInterval  time.Duration
	DrainPollAttempts int
	DrainPollInterval time.Duration

	// TargetRates are annual percentages, walked highest first.
	TargetRates  []float64
	TickInterval time.Duration
}

// Status is a point-in-time view of a strategy for reports and the API.
type Status struct {
	Name          string                     `json:"name"`
	PausedUntil   time.Time                  `json:"paused_until"`
	Pending       *domain.PendingReplacement `json:"pending,omitempty"`
	TooExpensive  []int64                    `json:"too_expensive,omitempty"`
	PendingReturn float64                    `json:"pending_return"`
	FilledSoFar   float64                    `json:"filled_so_far"`
}
