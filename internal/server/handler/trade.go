package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

const (
	defaultTradesLimit = 5
	maxTradesLimit     = 50
)

// TradeExecutor runs one dual-leg execution to a terminal outcome.
type TradeExecutor interface {
	Execute(ctx context.Context, req domain.TradeRequest) domain.ExecutionResult
}

// TradeLog reads the trade ledger for the recent-trades listing.
type TradeLog interface {
	ListRecent(ctx context.Context, limit int) ([]domain.TradeRecord, error)
}

// TradeHandler serves trade execution and trade history endpoints.
type TradeHandler struct {
	executor TradeExecutor
	trades   TradeLog
	nameA    string
	nameB    string
	logger   *slog.Logger
}

// NewTradeHandler creates a TradeHandler. nameA and nameB are the venue names
// used as JSON key prefixes in trade rows.
func NewTradeHandler(executor TradeExecutor, trades TradeLog, nameA, nameB string, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		executor: executor,
		trades:   trades,
		nameA:    nameA,
		nameB:    nameB,
		logger:   logger,
	}
}

// executeTradeRequest is the execute-trade JSON body.
type executeTradeRequest struct {
	Symbol          string  `json:"symbol"`
	Quantity        float64 `json:"quantity"`
	Leverage        int     `json:"leverage"`
	SimulateFailure bool    `json:"simulate_failure"`
}

// executionResponse mirrors domain.ExecutionResult on the wire.
type executionResponse struct {
	Success bool     `json:"success"`
	Status  *string  `json:"status"`
	Message string   `json:"message"`
	Logs    []string `json:"logs"`
}

// ExecuteTrade runs a dual-leg trade. Malformed bodies and non-positive
// quantity or leverage get a 400; every execution attempt past that point
// returns 200 with the outcome in the body, including rollbacks.
// POST /api/execute-trade
func (h *TradeHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var body executeTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	symbol := strings.TrimSpace(body.Symbol)
	if symbol == "" || !strings.Contains(symbol, "/") {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}
	if body.Quantity <= 0 || body.Leverage <= 0 {
		writeError(w, http.StatusBadRequest, "quantity and leverage must be positive")
		return
	}

	result := h.executor.Execute(r.Context(), domain.TradeRequest{
		Symbol:          symbol,
		Quantity:        body.Quantity,
		Leverage:        body.Leverage,
		SimulateFailure: body.SimulateFailure,
	})

	resp := executionResponse{
		Success: result.Success,
		Message: result.Message,
		Logs:    result.Logs,
	}
	if resp.Logs == nil {
		resp.Logs = []string{}
	}
	if result.Status != nil {
		s := string(*result.Status)
		resp.Status = &s
	}

	writeJSON(w, http.StatusOK, resp)
}

// ListTrades returns the most recent ledger records, newest first.
// GET /api/trades?limit=
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit := defaultTradesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxTradesLimit {
		limit = maxTradesLimit
	}

	recs, err := h.trades.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	rows := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		rows = append(rows, h.row(rec))
	}

	writeJSON(w, http.StatusOK, map[string]any{"trades": rows})
}

// row flattens one ledger record into the wire shape. Side and price keys
// are prefixed with the venue name.
func (h *TradeHandler) row(rec domain.TradeRecord) map[string]any {
	return map[string]any{
		"id":                     rec.ID,
		"symbol":                 rec.Symbol,
		"entry_time":             rec.EntryTime.UTC().Format(time.RFC3339),
		"quantity":               rec.Quantity,
		"leverage":               rec.Leverage,
		h.nameA + "_direction":   string(rec.SideA),
		h.nameB + "_direction":   string(rec.SideB),
		h.nameA + "_entry_price": rec.EntryPriceA,
		h.nameB + "_entry_price": rec.EntryPriceB,
		"status":                 string(rec.Status),
	}
}
