package domain

import "context"

// Side is the direction of one leg of a hedge.
type Side string

const (
	SideLong  Side = "Long"
	SideShort Side = "Short"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// OrderSpec describes a market order to open one leg.
type OrderSpec struct {
	Symbol   string // normalized "BASE/USDT"
	Side     Side
	Quantity float64 // tokens
	Leverage int
}

// CloseSpec describes a reduce-only market order that unwinds a leg.
type CloseSpec struct {
	Symbol   string
	Side     Side // side of the closing order, opposite of the open
	Quantity float64
}

// OrderResult is the typed outcome of a successful order placement.
type OrderResult struct {
	OrderID string
}

// VenueAdapter is the normalized contract every trading venue implements.
// Read methods use public data where the venue permits; AvailableBalance and
// the write methods require credentials and return ErrUnauthenticated (or a
// VenueError with KindAuth) when none are configured.
type VenueAdapter interface {
	Name() string

	// FundingSnapshot returns all USDT perpetuals with normalized symbols,
	// funding rates, and funding intervals. Unknown intervals are nil.
	FundingSnapshot(ctx context.Context) ([]Instrument, error)

	// MarkPrice returns the current mark price for a normalized symbol.
	// A missing or non-positive price is reported as ErrPriceUnavailable.
	MarkPrice(ctx context.Context, symbol string) (float64, error)

	// AvailableBalance returns the free USDT margin balance.
	AvailableBalance(ctx context.Context) (float64, error)

	PlaceMarketOrder(ctx context.Context, spec OrderSpec) (OrderResult, error)
	ClosePosition(ctx context.Context, spec CloseSpec) error
}
