package domain

import "time"

// Instrument is the normalized view of one USDT perpetual on one venue.
// Symbols always take the form "BASE/USDT". Nullable fields are pointers:
// a venue that cannot resolve a funding interval reports nil, never a guess.
type Instrument struct {
	Symbol          string
	FundingRate     *float64
	FundingInterval *int // whole hours
	NextFundingTime *time.Time
	MinOrderQty     float64
	QtyStep         float64
}

// VenueSection is one venue's half of a MarketSnapshot. A failed fetch leaves
// Instruments empty and Err set; the other venue's section is unaffected.
type VenueSection struct {
	Venue       string
	Instruments []Instrument
	Err         string
}

// Count returns the number of instruments in the section.
func (s VenueSection) Count() int { return len(s.Instruments) }

// MarketSnapshot is the immutable pair of per-venue instrument lists captured
// by one cache refresh. Consumers never mutate it; a refresh replaces it
// wholesale.
type MarketSnapshot struct {
	VenueA     VenueSection
	VenueB     VenueSection
	CapturedAt time.Time
}

// Section returns the section for the named venue, false if the snapshot does
// not carry that venue.
func (m MarketSnapshot) Section(venue string) (VenueSection, bool) {
	switch venue {
	case m.VenueA.Venue:
		return m.VenueA, true
	case m.VenueB.Venue:
		return m.VenueB, true
	}
	return VenueSection{}, false
}

// Index builds a symbol keyed lookup over a section's instruments.
func (s VenueSection) Index() map[string]Instrument {
	idx := make(map[string]Instrument, len(s.Instruments))
	for _, inst := range s.Instruments {
		idx[inst.Symbol] = inst
	}
	return idx
}
