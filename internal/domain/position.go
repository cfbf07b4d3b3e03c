package domain

// Position is an open margin position the borrowed funds may back.
type Position struct {
	Symbol    string
	Status    string
	Amount    float64
	BasePrice float64
}
