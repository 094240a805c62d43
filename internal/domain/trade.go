package domain

import "time"

// TradeStatus is the terminal state of an executed (or rolled back) trade.
type TradeStatus string

const (
	// TradeStatusOpen means both legs were placed and the hedge is live.
	TradeStatusOpen TradeStatus = "OPEN"
	// TradeStatusFailedRollback means leg B failed and a compensating close
	// of leg A was attempted. The close itself may or may not have succeeded;
	// the execution log records which.
	TradeStatusFailedRollback TradeStatus = "FAILED_ROLLBACK"
)

// TradeRequest is a client instruction to open a dual-leg hedge.
type TradeRequest struct {
	Symbol   string
	Quantity float64 // tokens
	Leverage int
	// SimulateFailure forces the leg B placement to fail without calling the
	// venue. Test seam for exercising the rollback path end to end.
	SimulateFailure bool
}

// TradeRecord is one append-only row of the trade ledger. Written exactly
// once per terminal execution, never mutated.
type TradeRecord struct {
	ID          string
	Symbol      string
	EntryTime   time.Time
	Quantity    float64
	Leverage    int
	SideA       Side
	SideB       Side
	EntryPriceA *float64
	EntryPriceB *float64
	Status      TradeStatus
}

// ExecutionResult is returned from every trade execution, success or not.
// Logs carry one human-readable line per step in order, enough to reconstruct
// what was attempted without server-side logs.
type ExecutionResult struct {
	Success bool
	Status  *TradeStatus // nil when validation rejected the request
	Message string
	Logs    []string
}
