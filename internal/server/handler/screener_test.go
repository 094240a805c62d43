package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/screener"
)

type fakeSnapshotSource struct {
	snap domain.MarketSnapshot
}

func (f *fakeSnapshotSource) Snapshot(ctx context.Context) domain.MarketSnapshot {
	return f.snap
}

func iptr(v int) *int { return &v }

func screenerSnapshot() domain.MarketSnapshot {
	next := time.Date(2026, 3, 1, 16, 0, 0, 0, time.UTC)
	instrument := func(symbol string, rate float64) domain.Instrument {
		return domain.Instrument{
			Symbol:          symbol,
			FundingRate:     fptr(rate),
			FundingInterval: iptr(8),
			NextFundingTime: &next,
		}
	}
	return domain.MarketSnapshot{
		VenueA: domain.VenueSection{
			Venue: "kucoin",
			Instruments: []domain.Instrument{
				instrument("BTC/USDT", 0.0006),
				instrument("ETH/USDT", 0.0001),
				instrument("SOL/USDT", 0.0009),
			},
		},
		VenueB: domain.VenueSection{
			Venue: "bybit",
			Instruments: []domain.Instrument{
				instrument("BTC/USDT", 0.0002),
				instrument("ETH/USDT", 0.0003),
				instrument("SOL/USDT", 0.0001),
			},
		},
		CapturedAt: time.Now(),
	}
}

func newScreenerHandler(snap domain.MarketSnapshot) *ScreenerHandler {
	return NewScreenerHandler(
		&fakeSnapshotSource{snap: snap},
		screener.NewMatcher("bybit"),
		"kucoin", "bybit",
		discardLogger(),
	)
}

func TestScreenerListRowShape(t *testing.T) {
	h := newScreenerHandler(screenerSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/api/screener?search=btc", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data        []map[string]any `json:"data"`
		TotalPages  int              `json:"total_pages"`
		CurrentPage int              `json:"current_page"`
		TotalItems  int              `json:"total_items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.TotalItems != 1 || len(body.Data) != 1 {
		t.Fatalf("items = %d, rows = %d", body.TotalItems, len(body.Data))
	}

	row := body.Data[0]
	if row["symbol"] != "BTC/USDT" {
		t.Errorf("symbol = %v", row["symbol"])
	}
	if row["kucoin_rate"] != 0.0006 || row["bybit_rate"] != 0.0002 {
		t.Errorf("rates = %v/%v", row["kucoin_rate"], row["bybit_rate"])
	}
	if row["recommended_action"] != "Kucoin: Short / Bybit: Long" {
		t.Errorf("action = %v", row["recommended_action"])
	}
	if row["funding_interval"] != 8.0 {
		t.Errorf("interval = %v", row["funding_interval"])
	}
	if row["next_funding_time"] != "2026-03-01T16:00:00Z" {
		t.Errorf("next funding = %v", row["next_funding_time"])
	}
}

func TestScreenerListPagination(t *testing.T) {
	h := newScreenerHandler(screenerSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/api/screener?page=2&limit=2", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var body struct {
		Data        []map[string]any `json:"data"`
		TotalPages  int              `json:"total_pages"`
		CurrentPage int              `json:"current_page"`
		TotalItems  int              `json:"total_items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.TotalItems != 3 || body.TotalPages != 2 || body.CurrentPage != 2 {
		t.Errorf("pagination = %d items, %d pages, page %d", body.TotalItems, body.TotalPages, body.CurrentPage)
	}
	if len(body.Data) != 1 {
		t.Errorf("rows on last page = %d, want 1", len(body.Data))
	}
}

func TestScreenerListSortBySpread(t *testing.T) {
	h := newScreenerHandler(screenerSnapshot())

	req := httptest.NewRequest(http.MethodGet, "/api/screener?sort_by=spread", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var body struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	// Spreads: SOL 0.0008, BTC 0.0004, ETH 0.0002.
	var symbols []string
	for _, row := range body.Data {
		symbols = append(symbols, row["symbol"].(string))
	}
	want := []string{"SOL/USDT", "BTC/USDT", "ETH/USDT"}
	for i := range want {
		if symbols[i] != want[i] {
			t.Fatalf("order = %v, want %v", symbols, want)
		}
	}
}

func TestScreenerListEmptySnapshot(t *testing.T) {
	h := newScreenerHandler(domain.MarketSnapshot{
		VenueA: domain.VenueSection{Venue: "kucoin"},
		VenueB: domain.VenueSection{Venue: "bybit"},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/screener", nil)
	rec := httptest.NewRecorder()
	h.List(rec, req)

	var body struct {
		Data       []map[string]any `json:"data"`
		TotalItems int              `json:"total_items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.TotalItems != 0 {
		t.Errorf("items = %d", body.TotalItems)
	}
	if body.Data == nil {
		t.Error("data should be [] not null")
	}
}
