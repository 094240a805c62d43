package domain

import "time"

// Opportunity is a matched funding-rate spread between the two venues for one
// symbol. Derived from a MarketSnapshot, never persisted.
type Opportunity struct {
	Symbol          string
	RateA           float64
	RateB           float64
	IntervalHours   int
	GrossSpread     float64
	Action          string // e.g. "Kucoin: Short / Bybit: Long"
	NextFundingTime *time.Time
}
