package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// SnapshotSource supplies the current two-venue market snapshot, refreshing
// it when stale.
type SnapshotSource interface {
	Snapshot(ctx context.Context) domain.MarketSnapshot
}

// MarketHandler serves market-data, trade-preview and connectivity endpoints.
type MarketHandler struct {
	source SnapshotSource
	venueA domain.VenueAdapter
	venueB domain.VenueAdapter
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler over the snapshot source and the
// two venue adapters.
func NewMarketHandler(source SnapshotSource, venueA, venueB domain.VenueAdapter, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		source: source,
		venueA: venueA,
		venueB: venueB,
		logger: logger,
	}
}

// venueStatus is the per-venue slice of the market-data response.
type venueStatus struct {
	SymbolsCount int     `json:"symbols_count"`
	Error        *string `json:"error"`
}

// MarketData reports per-venue symbol counts from the current snapshot. A
// venue that failed to fetch reports its error while the other still counts.
// GET /api/market-data
func (h *MarketHandler) MarketData(w http.ResponseWriter, r *http.Request) {
	snap := h.source.Snapshot(r.Context())

	resp := map[string]any{
		"captured_at": snap.CapturedAt.UTC().Format(time.RFC3339),
	}
	for _, section := range []domain.VenueSection{snap.VenueA, snap.VenueB} {
		status := venueStatus{SymbolsCount: section.Count()}
		if section.Err != "" {
			e := section.Err
			status.Error = &e
		}
		resp[section.Venue] = status
	}

	writeJSON(w, http.StatusOK, resp)
}

// tradePreviewResponse carries per-venue mark prices and balances for the
// trade entry form.
type tradePreviewResponse struct {
	Symbol   string             `json:"symbol"`
	Prices   map[string]float64 `json:"prices"`
	Balances map[string]float64 `json:"balances"`
}

// TradePreview returns mark prices and available balances for a symbol on
// both venues. Balance failures degrade to 0 so the preview still renders;
// a missing price on either venue is a hard error.
// GET /api/trade-preview/{symbol...}
func (h *MarketHandler) TradePreview(w http.ResponseWriter, r *http.Request) {
	symbol := strings.TrimSpace(pathParam(r, "symbol"))
	if symbol == "" || !strings.Contains(symbol, "/") {
		writeError(w, http.StatusBadRequest, "invalid symbol")
		return
	}

	log := logHandler(h.logger, "trade_preview")
	resp := tradePreviewResponse{
		Symbol:   symbol,
		Prices:   make(map[string]float64, 2),
		Balances: make(map[string]float64, 2),
	}

	for _, adapter := range []domain.VenueAdapter{h.venueA, h.venueB} {
		price, err := adapter.MarkPrice(r.Context(), symbol)
		if err != nil {
			log.WarnContext(r.Context(), "mark price unavailable",
				slog.String("venue", adapter.Name()),
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway,
				fmt.Sprintf("%s: price unavailable for %s", adapter.Name(), symbol))
			return
		}
		resp.Prices[adapter.Name()] = price

		balance, err := adapter.AvailableBalance(r.Context())
		if err != nil {
			// Missing or invalid API keys still get a preview.
			log.WarnContext(r.Context(), "balance unavailable",
				slog.String("venue", adapter.Name()),
				slog.String("error", err.Error()),
			)
			balance = 0
		}
		resp.Balances[adapter.Name()] = balance
	}

	writeJSON(w, http.StatusOK, resp)
}

// TestConnection probes both venues' private balance endpoints and reports
// "ok" only when both authenticate.
// GET /api/test-connection
func (h *MarketHandler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var failures []string
	for _, adapter := range []domain.VenueAdapter{h.venueA, h.venueB} {
		if _, err := adapter.AvailableBalance(r.Context()); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", adapter.Name(), err))
		}
	}

	if len(failures) > 0 {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "error",
			"message": "Error: " + strings.Join(failures, "; "),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": fmt.Sprintf("Connected! %s & %s ready.", h.venueA.Name(), h.venueB.Name()),
	})
}
