package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type fakeAdapter struct {
	name       string
	markPrice  float64
	markErr    error
	balance    float64
	balanceErr error
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) FundingSnapshot(ctx context.Context) ([]domain.Instrument, error) {
	return nil, errors.New("not used")
}

func (f *fakeAdapter) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	if f.markErr != nil {
		return 0, f.markErr
	}
	return f.markPrice, nil
}

func (f *fakeAdapter) AvailableBalance(ctx context.Context) (float64, error) {
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeAdapter) PlaceMarketOrder(ctx context.Context, spec domain.OrderSpec) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not used")
}

func (f *fakeAdapter) ClosePosition(ctx context.Context, spec domain.CloseSpec) error {
	return errors.New("not used")
}

func previewRequest(t *testing.T, h *MarketHandler, symbol string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/trade-preview/{symbol...}", h.TradePreview)
	req := httptest.NewRequest(http.MethodGet, "/api/trade-preview/"+symbol, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestMarketDataReportsBothVenues(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := domain.MarketSnapshot{
		VenueA: domain.VenueSection{
			Venue:       "kucoin",
			Instruments: []domain.Instrument{{Symbol: "BTC/USDT"}, {Symbol: "ETH/USDT"}},
		},
		VenueB: domain.VenueSection{
			Venue: "bybit",
			Err:   "bybit: tickers: connection refused",
		},
		CapturedAt: captured,
	}
	h := NewMarketHandler(&fakeSnapshotSource{snap: snap}, &fakeAdapter{name: "kucoin"}, &fakeAdapter{name: "bybit"}, discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/market-data", nil)
	rec := httptest.NewRecorder()
	h.MarketData(rec, req)

	var body struct {
		CapturedAt string      `json:"captured_at"`
		Kucoin     venueStatus `json:"kucoin"`
		Bybit      venueStatus `json:"bybit"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.CapturedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("captured_at = %q", body.CapturedAt)
	}
	if body.Kucoin.SymbolsCount != 2 || body.Kucoin.Error != nil {
		t.Errorf("kucoin = %+v", body.Kucoin)
	}
	if body.Bybit.SymbolsCount != 0 || body.Bybit.Error == nil {
		t.Errorf("bybit = %+v", body.Bybit)
	}
}

func TestTradePreview(t *testing.T) {
	a := &fakeAdapter{name: "kucoin", markPrice: 60000, balance: 1500}
	b := &fakeAdapter{name: "bybit", markPrice: 60010, balanceErr: domain.ErrUnauthenticated}
	h := NewMarketHandler(&fakeSnapshotSource{}, a, b, discardLogger())

	rec := previewRequest(t, h, "BTC/USDT")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var body tradePreviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body.Symbol != "BTC/USDT" {
		t.Errorf("symbol = %q", body.Symbol)
	}
	if body.Prices["kucoin"] != 60000 || body.Prices["bybit"] != 60010 {
		t.Errorf("prices = %v", body.Prices)
	}
	// A venue with no credentials still previews with a zero balance.
	if body.Balances["kucoin"] != 1500 || body.Balances["bybit"] != 0 {
		t.Errorf("balances = %v", body.Balances)
	}
}

func TestTradePreviewPriceFailureIsHard(t *testing.T) {
	a := &fakeAdapter{name: "kucoin", markPrice: 60000}
	b := &fakeAdapter{name: "bybit", markErr: fmt.Errorf("bybit: mark price: %w", domain.ErrPriceUnavailable)}
	h := NewMarketHandler(&fakeSnapshotSource{}, a, b, discardLogger())

	rec := previewRequest(t, h, "BTC/USDT")
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestTradePreviewRejectsBareSymbol(t *testing.T) {
	h := NewMarketHandler(&fakeSnapshotSource{}, &fakeAdapter{name: "kucoin"}, &fakeAdapter{name: "bybit"}, discardLogger())

	rec := previewRequest(t, h, "BTCUSDT")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestTestConnection(t *testing.T) {
	t.Run("both ok", func(t *testing.T) {
		h := NewMarketHandler(&fakeSnapshotSource{},
			&fakeAdapter{name: "kucoin", balance: 100},
			&fakeAdapter{name: "bybit", balance: 100},
			discardLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/test-connection", nil)
		rec := httptest.NewRecorder()
		h.TestConnection(rec, req)

		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body: %v", err)
		}
		if body["status"] != "ok" {
			t.Errorf("status = %q", body["status"])
		}
		if body["message"] != "Connected! kucoin & bybit ready." {
			t.Errorf("message = %q", body["message"])
		}
	})

	t.Run("one venue failing", func(t *testing.T) {
		h := NewMarketHandler(&fakeSnapshotSource{},
			&fakeAdapter{name: "kucoin", balance: 100},
			&fakeAdapter{name: "bybit", balanceErr: domain.ErrUnauthenticated},
			discardLogger())

		req := httptest.NewRequest(http.MethodGet, "/api/test-connection", nil)
		rec := httptest.NewRecorder()
		h.TestConnection(rec, req)

		var body map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body: %v", err)
		}
		if body["status"] != "error" {
			t.Errorf("status = %q", body["status"])
		}
		if !strings.Contains(body["message"], "bybit") {
			t.Errorf("message = %q", body["message"])
		}
	})
}
