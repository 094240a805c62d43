// Package screener turns a market snapshot into funding-rate arbitrage
// opportunities and provides the search/sort/pagination layer used by the
// API.
package screener

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// Matcher pairs instruments present on both venues with identical funding
// cadence and computes spread and direction. It is stateless; matching the
// same snapshot twice yields the same list.
type Matcher struct {
	// primaryClock names the venue whose next-funding-time wins when both
	// venues report one. The other venue is the fallback. Arbitrary but
	// applied consistently.
	primaryClock string
}

// NewMatcher creates a Matcher. primaryClock must be one of the snapshot's
// venue names; an unknown name simply never matches and the fallback applies.
func NewMatcher(primaryClock string) *Matcher {
	return &Matcher{primaryClock: primaryClock}
}

// Match intersects the snapshot's venues by symbol and returns one
// opportunity per matchable symbol, ordered by symbol for determinism.
//
// A symbol is skipped when either venue lacks a funding rate, when either
// funding interval is unknown, or when the two intervals differ. Interval
// equality is strict: pairing a 1-hour cadence against an 8-hour one would
// overstate the spread, so mismatches are excluded rather than normalized.
func (m *Matcher) Match(snap domain.MarketSnapshot) []domain.Opportunity {
	idxA := snap.VenueA.Index()
	idxB := snap.VenueB.Index()

	symbols := make([]string, 0, len(idxA))
	for sym := range idxA {
		if _, ok := idxB[sym]; ok {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)

	out := make([]domain.Opportunity, 0, len(symbols))
	for _, sym := range symbols {
		instA, instB := idxA[sym], idxB[sym]
		if instA.FundingRate == nil || instB.FundingRate == nil {
			continue
		}
		if instA.FundingInterval == nil || instB.FundingInterval == nil {
			continue
		}
		if *instA.FundingInterval != *instB.FundingInterval {
			continue
		}

		rateA, rateB := *instA.FundingRate, *instB.FundingRate
		out = append(out, domain.Opportunity{
			Symbol:          sym,
			RateA:           rateA,
			RateB:           rateB,
			IntervalHours:   *instA.FundingInterval,
			GrossSpread:     math.Abs(rateA - rateB),
			Action:          action(snap.VenueA.Venue, snap.VenueB.Venue, rateA, rateB),
			NextFundingTime: m.nextFundingTime(snap, instA, instB),
		})
	}
	return out
}

// action applies the funding-rate arbitrage convention: short the venue with
// the higher rate, long the other (shorts receive funding when the rate is
// positive and high).
func action(venueA, venueB string, rateA, rateB float64) string {
	if rateA > rateB {
		return fmt.Sprintf("%s: Short / %s: Long", title(venueA), title(venueB))
	}
	return fmt.Sprintf("%s: Long / %s: Short", title(venueA), title(venueB))
}

// nextFundingTime prefers the primary-clock venue's value, falling back to
// the other's when the primary has none.
func (m *Matcher) nextFundingTime(snap domain.MarketSnapshot, instA, instB domain.Instrument) *time.Time {
	primary, fallback := instA, instB
	if m.primaryClock == snap.VenueB.Venue {
		primary, fallback = instB, instA
	}
	if primary.NextFundingTime != nil {
		return primary.NextFundingTime
	}
	return fallback.NextFundingTime
}

func title(venue string) string {
	if venue == "" {
		return venue
	}
	b := []byte(venue)
	if b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
