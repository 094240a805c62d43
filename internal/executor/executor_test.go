package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

type fakeVenue struct {
	name       string
	markPrice  float64
	markErr    error
	balance    float64
	balanceErr error
	placeErr   error
	closeErr   error

	mu     sync.Mutex
	orders []domain.OrderSpec
	closes []domain.CloseSpec
}

func (f *fakeVenue) Name() string { return f.name }

func (f *fakeVenue) FundingSnapshot(context.Context) ([]domain.Instrument, error) {
	return nil, nil
}

func (f *fakeVenue) MarkPrice(context.Context, string) (float64, error) {
	return f.markPrice, f.markErr
}

func (f *fakeVenue) AvailableBalance(context.Context) (float64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeVenue) PlaceMarketOrder(_ context.Context, spec domain.OrderSpec) (domain.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return domain.OrderResult{}, f.placeErr
	}
	f.orders = append(f.orders, spec)
	return domain.OrderResult{OrderID: "ord-1"}, nil
}

func (f *fakeVenue) ClosePosition(_ context.Context, spec domain.CloseSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes = append(f.closes, spec)
	return f.closeErr
}

func (f *fakeVenue) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeLedger struct {
	mu        sync.Mutex
	records   []domain.TradeRecord
	appendErr error
}

func (f *fakeLedger) Append(_ context.Context, rec domain.TradeRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return "", f.appendErr
	}
	f.records = append(f.records, rec)
	return rec.ID, nil
}

func (f *fakeLedger) ListRecent(context.Context, int) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeLedger) ListBefore(context.Context, time.Time) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (f *fakeLedger) all() []domain.TradeRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TradeRecord(nil), f.records...)
}

type fakeSource struct {
	snap domain.MarketSnapshot
}

func (f *fakeSource) Snapshot(context.Context) domain.MarketSnapshot { return f.snap }

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func ratePtr(v float64) *float64 { return &v }

func snapshotWithRates(nameA, nameB, symbol string, rateA, rateB *float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		VenueA: domain.VenueSection{
			Venue:       nameA,
			Instruments: []domain.Instrument{{Symbol: symbol, FundingRate: rateA}},
		},
		VenueB: domain.VenueSection{
			Venue:       nameB,
			Instruments: []domain.Instrument{{Symbol: symbol, FundingRate: rateB}},
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, venueA, venueB *fakeVenue, source SnapshotSource, ledger *fakeLedger, opts ...Option) *Executor {
	t.Helper()
	return New(venueA, venueB, source, ledger, NewMemoryLockManager(), Config{
		MaxOrderTokens:   10000,
		MaxOrderNotional: 25000,
	}, testLogger(), opts...)
}

func TestExecuteRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		req  domain.TradeRequest
	}{
		{"empty symbol", domain.TradeRequest{Symbol: "", Quantity: 1, Leverage: 1}},
		{"no separator", domain.TradeRequest{Symbol: "BTCUSDT", Quantity: 1, Leverage: 1}},
		{"leading separator", domain.TradeRequest{Symbol: "/USDT", Quantity: 1, Leverage: 1}},
		{"zero quantity", domain.TradeRequest{Symbol: "BTC/USDT", Quantity: 0, Leverage: 1}},
		{"negative quantity", domain.TradeRequest{Symbol: "BTC/USDT", Quantity: -5, Leverage: 1}},
		{"zero leverage", domain.TradeRequest{Symbol: "BTC/USDT", Quantity: 1, Leverage: 0}},
		{"token cap", domain.TradeRequest{Symbol: "BTC/USDT", Quantity: 10001, Leverage: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			venueA := &fakeVenue{name: "kucoin", markPrice: 100, balance: 1e6}
			venueB := &fakeVenue{name: "bybit", markPrice: 100, balance: 1e6}
			ledger := &fakeLedger{}
			exec := newTestExecutor(t, venueA, venueB, &fakeSource{}, ledger)

			result := exec.Execute(context.Background(), tt.req)

			if result.Success {
				t.Fatal("expected rejection")
			}
			if result.Status != nil {
				t.Errorf("status = %v, want nil", *result.Status)
			}
			if venueA.orderCount() != 0 || venueB.orderCount() != 0 {
				t.Error("rejected request must not reach a venue")
			}
			if len(ledger.all()) != 0 {
				t.Error("rejected request must not be recorded")
			}
		})
	}
}

func TestExecuteRejectsNotionalCap(t *testing.T) {
	// 10 tokens at the higher mark price 60000 is 600000 notional, far over
	// the 25000 cap. No order may be placed.
	venueA := &fakeVenue{name: "kucoin", markPrice: 59900, balance: 1e9}
	venueB := &fakeVenue{name: "bybit", markPrice: 60000, balance: 1e9}
	ledger := &fakeLedger{}
	exec := newTestExecutor(t, venueA, venueB, &fakeSource{}, ledger)

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 10, Leverage: 5,
	})

	if result.Success || result.Status != nil {
		t.Fatalf("expected status-free rejection, got success=%v status=%v", result.Success, result.Status)
	}
	if !strings.Contains(result.Message, "notional") {
		t.Errorf("message = %q, want notional cap mention", result.Message)
	}
	if venueA.orderCount() != 0 || venueB.orderCount() != 0 {
		t.Error("capped request must not reach a venue")
	}
	if len(ledger.all()) != 0 {
		t.Error("capped request must not be recorded")
	}
}

func TestExecuteRejectsInsufficientBalance(t *testing.T) {
	// Margin 2*60000/5 = 24000 against a 500 USDT balance on venue B.
	venueA := &fakeVenue{name: "kucoin", markPrice: 60000, balance: 1e6}
	venueB := &fakeVenue{name: "bybit", markPrice: 60000, balance: 500}
	ledger := &fakeLedger{}
	exec := New(venueA, venueB, &fakeSource{}, ledger, NewMemoryLockManager(), Config{
		MaxOrderTokens:   10000,
		MaxOrderNotional: 1e9,
	}, testLogger())

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 2, Leverage: 5,
	})

	if result.Success || result.Status != nil {
		t.Fatalf("expected status-free rejection, got success=%v status=%v", result.Success, result.Status)
	}
	if !strings.Contains(result.Message, "insufficient balance on bybit") {
		t.Errorf("message = %q, want insufficient balance on bybit", result.Message)
	}
	if venueA.orderCount() != 0 || venueB.orderCount() != 0 {
		t.Error("underfunded request must not reach a venue")
	}
}

func TestExecuteBothLegsSuccess(t *testing.T) {
	snap := snapshotWithRates("kucoin", "bybit", "BTC/USDT", ratePtr(0.0006), ratePtr(0.0002))
	venueA := &fakeVenue{name: "kucoin", markPrice: 60000, balance: 1e6}
	venueB := &fakeVenue{name: "bybit", markPrice: 60010, balance: 1e6}
	ledger := &fakeLedger{}
	exec := New(venueA, venueB, &fakeSource{snap: snap}, ledger, NewMemoryLockManager(), Config{
		MaxOrderTokens:   10000,
		MaxOrderNotional: 1e9,
	}, testLogger())

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 0.1, Leverage: 5,
	})

	if !result.Success {
		t.Fatalf("execute failed: %s", result.Message)
	}
	if result.Status == nil || *result.Status != domain.TradeStatusOpen {
		t.Fatalf("status = %v, want OPEN", result.Status)
	}

	// Higher funding rate on venue A means venue A is shorted.
	if got := venueA.orders[0].Side; got != domain.SideShort {
		t.Errorf("venue A side = %s, want Short", got)
	}
	if got := venueB.orders[0].Side; got != domain.SideLong {
		t.Errorf("venue B side = %s, want Long", got)
	}

	recs := ledger.all()
	if len(recs) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != domain.TradeStatusOpen {
		t.Errorf("record status = %s, want OPEN", rec.Status)
	}
	if rec.SideA != domain.SideShort || rec.SideB != domain.SideLong {
		t.Errorf("record sides = %s/%s, want Short/Long", rec.SideA, rec.SideB)
	}
	if rec.EntryPriceA == nil || *rec.EntryPriceA != 60000 {
		t.Errorf("entry price A = %v, want 60000", rec.EntryPriceA)
	}
	if rec.ID == "" {
		t.Error("record id must be set")
	}
	if len(result.Logs) == 0 {
		t.Error("execution must return step logs")
	}
}

func TestExecuteDefaultSidesWhenRatesMissing(t *testing.T) {
	// No funding rates in the snapshot: venue A long, venue B short.
	venueA := &fakeVenue{name: "kucoin", markPrice: 100, balance: 1e6}
	venueB := &fakeVenue{name: "bybit", markPrice: 100, balance: 1e6}
	ledger := &fakeLedger{}
	exec := newTestExecutor(t, venueA, venueB, &fakeSource{}, ledger)

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 1, Leverage: 2,
	})

	if !result.Success {
		t.Fatalf("execute failed: %s", result.Message)
	}
	if got := venueA.orders[0].Side; got != domain.SideLong {
		t.Errorf("venue A side = %s, want Long", got)
	}
	if got := venueB.orders[0].Side; got != domain.SideShort {
		t.Errorf("venue B side = %s, want Short", got)
	}
}

func TestExecuteLegAFailureWritesNoRecord(t *testing.T) {
	venueA := &fakeVenue{name: "kucoin", markPrice: 100, balance: 1e6, placeErr: errors.New("rejected")}
	venueB := &fakeVenue{name: "bybit", markPrice: 100, balance: 1e6}
	ledger := &fakeLedger{}
	exec := newTestExecutor(t, venueA, venueB, &fakeSource{}, ledger)

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 1, Leverage: 2,
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Status != nil {
		t.Errorf("status = %v, want nil: nothing was opened", *result.Status)
	}
	if venueB.orderCount() != 0 {
		t.Error("leg B must not be attempted after leg A failed")
	}
	if len(venueA.closes) != 0 {
		t.Error("nothing to compensate when leg A never opened")
	}
	if len(ledger.all()) != 0 {
		t.Error("leg A failure must not be recorded")
	}
}

func TestExecuteSimulatedFailureRollsBack(t *testing.T) {
	snap := snapshotWithRates("kucoin", "bybit", "BTC/USDT", ratePtr(0.0001), ratePtr(0.0005))
	venueA := &fakeVenue{name: "kucoin", markPrice: 60000, balance: 1e6}
	venueB := &fakeVenue{name: "bybit", markPrice: 60000, balance: 1e6}
	ledger := &fakeLedger{}
	exec := New(venueA, venueB, &fakeSource{snap: snap}, ledger, NewMemoryLockManager(), Config{
		MaxOrderTokens:   10000,
		MaxOrderNotional: 1e9,
	}, testLogger())

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 0.2, Leverage: 3, SimulateFailure: true,
	})

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.Status == nil || *result.Status != domain.TradeStatusFailedRollback {
		t.Fatalf("status = %v, want FAILED_ROLLBACK", result.Status)
	}
	if result.Message != "Trade failed. First order rolled back." {
		t.Errorf("message = %q", result.Message)
	}

	// Venue B must never be called when the failure is simulated.
	if venueB.orderCount() != 0 {
		t.Error("simulated failure must not reach venue B")
	}

	// The compensating close reverses leg A with the same quantity. Higher
	// rate on venue B means leg A was long, so the close is short.
	if len(venueA.closes) != 1 {
		t.Fatalf("venue A closes = %d, want 1", len(venueA.closes))
	}
	cl := venueA.closes[0]
	if cl.Side != domain.SideShort {
		t.Errorf("close side = %s, want Short (opposite of leg A)", cl.Side)
	}
	if cl.Quantity != 0.2 {
		t.Errorf("close quantity = %v, want 0.2", cl.Quantity)
	}

	recs := ledger.all()
	if len(recs) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(recs))
	}
	if recs[0].Status != domain.TradeStatusFailedRollback {
		t.Errorf("record status = %s, want FAILED_ROLLBACK", recs[0].Status)
	}
}

func TestExecuteRollbackCloseFailureStillRecords(t *testing.T) {
	venueA := &fakeVenue{name: "kucoin", markPrice: 100, balance: 1e6, closeErr: errors.New("venue down")}
	venueB := &fakeVenue{name: "bybit", markPrice: 100, balance: 1e6, placeErr: errors.New("margin check failed")}
	ledger := &fakeLedger{}
	notifier := &fakeNotifier{}
	exec := newTestExecutor(t, venueA, venueB, &fakeSource{}, ledger, WithNotifier(notifier))

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 1, Leverage: 2,
	})

	if result.Status == nil || *result.Status != domain.TradeStatusFailedRollback {
		t.Fatalf("status = %v, want FAILED_ROLLBACK even when the close fails", result.Status)
	}

	var manual bool
	for _, line := range result.Logs {
		if strings.Contains(line, "MANUAL INTERVENTION REQUIRED") {
			manual = true
		}
	}
	if !manual {
		t.Error("step log must flag manual intervention")
	}

	if len(ledger.all()) != 1 {
		t.Fatalf("ledger records = %d, want 1", len(ledger.all()))
	}
	if len(notifier.events) != 1 || notifier.events[0] != "rollback_failed" {
		t.Errorf("notifier events = %v, want [rollback_failed]", notifier.events)
	}
}

func TestExecuteLedgerFailureKeepsOutcome(t *testing.T) {
	venueA := &fakeVenue{name: "kucoin", markPrice: 100, balance: 1e6}
	venueB := &fakeVenue{name: "bybit", markPrice: 100, balance: 1e6}
	ledger := &fakeLedger{appendErr: errors.New("db down")}
	exec := newTestExecutor(t, venueA, venueB, &fakeSource{}, ledger)

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 1, Leverage: 2,
	})

	if !result.Success {
		t.Fatalf("a failed ledger write must not fail the trade: %s", result.Message)
	}
	var logged bool
	for _, line := range result.Logs {
		if strings.Contains(line, "ledger append failed") {
			logged = true
		}
	}
	if !logged {
		t.Error("ledger failure must appear in the step log")
	}
}

func TestExecuteLockHeldRejects(t *testing.T) {
	venueA := &fakeVenue{name: "kucoin", markPrice: 100, balance: 1e6}
	venueB := &fakeVenue{name: "bybit", markPrice: 100, balance: 1e6}
	locks := NewMemoryLockManager()
	exec := New(venueA, venueB, &fakeSource{}, &fakeLedger{}, locks, Config{
		MaxOrderTokens:   10000,
		MaxOrderNotional: 1e9,
	}, testLogger())

	unlock, err := locks.Acquire(context.Background(), "trade:BTC/USDT", time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}
	defer unlock()

	result := exec.Execute(context.Background(), domain.TradeRequest{
		Symbol: "BTC/USDT", Quantity: 1, Leverage: 1,
	})

	if result.Success || result.Status != nil {
		t.Fatal("contended symbol must be rejected without execution")
	}
	if !strings.Contains(result.Message, "already in progress") {
		t.Errorf("message = %q", result.Message)
	}
	if venueA.orderCount() != 0 {
		t.Error("contended request must not reach a venue")
	}
}

func TestMemoryLockManager(t *testing.T) {
	locks := NewMemoryLockManager()
	ctx := context.Background()

	unlock, err := locks.Acquire(ctx, "trade:ETH/USDT", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := locks.Acquire(ctx, "trade:ETH/USDT", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire err = %v, want ErrLockHeld", err)
	}

	// A different key is unaffected.
	other, err := locks.Acquire(ctx, "trade:BTC/USDT", time.Minute)
	if err != nil {
		t.Fatalf("other key acquire: %v", err)
	}
	other()

	unlock()
	unlock() // double release is a no-op

	if _, err := locks.Acquire(ctx, "trade:ETH/USDT", time.Minute); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}
