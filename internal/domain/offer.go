package domain

// Offer is one rate level of the public funding book.
type Offer struct {
	Rate   float64
	Period int
	Count  int
	Amount float64
}

// DailyToAnnual converts a daily funding rate fraction to an annual percentage.
func DailyToAnnual(rate float64) float64 {
	return rate * 365 * 100
}

// AnnualToDaily converts an annual percentage to a daily rate fraction.
func AnnualToDaily(apr float64) float64 {
	return apr / 100 / 365
}
