// Package executor coordinates the dual-leg hedge: validate, place leg A,
// place leg B, and compensate leg A when leg B fails. It is the system's
// core state machine; every execution runs to a terminal outcome and returns
// an ordered, human-readable step log.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
)

// SnapshotSource supplies the current market snapshot. Implemented by
// marketdata.Cache.
type SnapshotSource interface {
	Snapshot(ctx context.Context) domain.MarketSnapshot
}

// Notifier delivers operator alerts. Implemented by notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the executor's per-order safety limits.
type Config struct {
	// MaxOrderTokens caps the token quantity of a single request.
	MaxOrderTokens float64
	// MaxOrderNotional caps quantity times the higher of the two mark
	// prices, bounding worst-case exposure while only one leg is open.
	MaxOrderNotional float64
	// LockTTL bounds how long the per-symbol lock may be held by a stuck
	// execution before a distributed lock expires it.
	LockTTL time.Duration
}

// Executor places the two legs of a funding-rate hedge sequentially, never
// concurrently: leg A is only ever compensated after it is confirmed open,
// which is what keeps the rollback well-defined. VenueA is always the first
// leg.
type Executor struct {
	venueA   domain.VenueAdapter
	venueB   domain.VenueAdapter
	source   SnapshotSource
	ledger   domain.TradeLedger
	locks    domain.LockManager
	cfg      Config
	logger   *slog.Logger
	notifier Notifier
	sink     domain.EventSink
	now      func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithNotifier enables operator alerts for rollback failures.
func WithNotifier(n Notifier) Option {
	return func(e *Executor) { e.notifier = n }
}

// WithEventSink publishes a "trade_executed" event per terminal trade.
func WithEventSink(sink domain.EventSink) Option {
	return func(e *Executor) { e.sink = sink }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// New creates an Executor. venueA receives the first leg.
func New(
	venueA, venueB domain.VenueAdapter,
	source SnapshotSource,
	ledger domain.TradeLedger,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	e := &Executor{
		venueA: venueA,
		venueB: venueB,
		source: source,
		ledger: ledger,
		locks:  locks,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "trade_executor")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs one dual-leg trade to a terminal outcome. Validation failures
// reject the request with no venue calls and no ledger write; once leg A is
// placed the execution cannot be cancelled and always ends in OPEN or
// FAILED_ROLLBACK.
func (e *Executor) Execute(ctx context.Context, req domain.TradeRequest) domain.ExecutionResult {
	if result, ok := e.validateInput(req); !ok {
		return result
	}

	unlock, err := e.locks.Acquire(ctx, "trade:"+req.Symbol, e.cfg.LockTTL)
	if err != nil {
		msg := fmt.Sprintf("trade already in progress for %s", req.Symbol)
		if !errors.Is(err, domain.ErrLockHeld) {
			msg = fmt.Sprintf("could not lock %s: %v", req.Symbol, err)
		}
		return reject(msg)
	}
	defer unlock()

	log := e.logger.With(
		slog.String("symbol", req.Symbol),
		slog.Float64("quantity", req.Quantity),
		slog.Int("leverage", req.Leverage),
	)

	return e.run(ctx, req, log)
}

// validateInput applies the remote-free checks: positive quantity and
// leverage, a parseable symbol, and the token cap.
func (e *Executor) validateInput(req domain.TradeRequest) (domain.ExecutionResult, bool) {
	if !validSymbol(req.Symbol) {
		return reject(fmt.Sprintf("invalid symbol %q", req.Symbol)), false
	}
	if req.Quantity <= 0 {
		return reject("quantity must be positive"), false
	}
	if req.Leverage <= 0 {
		return reject("leverage must be positive"), false
	}
	if req.Quantity > e.cfg.MaxOrderTokens {
		return reject(fmt.Sprintf("quantity %v exceeds per-order cap of %v tokens", req.Quantity, e.cfg.MaxOrderTokens)), false
	}
	return domain.ExecutionResult{}, true
}

// stepLog accumulates one human-readable line per execution step.
type stepLog struct {
	lines []string
}

func (l *stepLog) addf(format string, args ...any) {
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (e *Executor) run(ctx context.Context, req domain.TradeRequest, log *slog.Logger) domain.ExecutionResult {
	logs := &stepLog{}
	step := logs.addf

	nameA, nameB := e.venueA.Name(), e.venueB.Name()

	// Direction: the venue with the higher funding rate is shorted. Derived
	// from the snapshot at execution time, not from a stale screener row.
	sideA, sideB := e.resolveSides(ctx, req.Symbol)
	step("resolved direction: %s %s / %s %s", nameA, sideA, nameB, sideB)

	// Mark prices. A hedge cannot be priced without both legs.
	priceA, err := e.venueA.MarkPrice(ctx, req.Symbol)
	if err != nil {
		step("%s mark price unavailable: %v", nameA, err)
		return rejectWithLogs(fmt.Sprintf("mark price unavailable on %s", nameA), logs.lines)
	}
	priceB, err := e.venueB.MarkPrice(ctx, req.Symbol)
	if err != nil {
		step("%s mark price unavailable: %v", nameB, err)
		return rejectWithLogs(fmt.Sprintf("mark price unavailable on %s", nameB), logs.lines)
	}
	step("mark prices: %s %.8g / %s %.8g", nameA, priceA, nameB, priceB)

	// Notional cap uses the higher price: it must bound worst-case exposure.
	notional := req.Quantity * max(priceA, priceB)
	if notional > e.cfg.MaxOrderNotional {
		step("notional %.2f exceeds cap %.2f", notional, e.cfg.MaxOrderNotional)
		return rejectWithLogs(
			fmt.Sprintf("notional %.2f USDT exceeds per-order cap of %.2f USDT", notional, e.cfg.MaxOrderNotional),
			logs.lines,
		)
	}

	// Margin per venue, checked independently: a hedge is only as good as
	// both sides being fundable.
	if result, ok := e.checkMargin(ctx, e.venueA, req, priceA, logs); !ok {
		return result
	}
	if result, ok := e.checkMargin(ctx, e.venueB, req, priceB, logs); !ok {
		return result
	}

	// Leg A. Failure here needs no compensation and writes no record:
	// nothing was opened.
	orderA, err := e.venueA.PlaceMarketOrder(ctx, domain.OrderSpec{
		Symbol:   req.Symbol,
		Side:     sideA,
		Quantity: req.Quantity,
		Leverage: req.Leverage,
	})
	if err != nil {
		step("[%s] place %s order: FAILED: %v", nameA, sideA, err)
		log.Warn("leg A placement failed", slog.String("error", err.Error()))
		return rejectWithLogs(fmt.Sprintf("leg A (%s) failed: %v", nameA, err), logs.lines)
	}
	step("[%s] place %s order: %v tokens at %dx: OK (order %s)", nameA, sideA, req.Quantity, req.Leverage, orderA.OrderID)

	// Leg B, or the simulated failure seam.
	var errB error
	if req.SimulateFailure {
		errB = errors.New("simulated failure")
		step("[%s] place %s order: FAILED (simulated)", nameB, sideB)
	} else {
		orderB, err := e.venueB.PlaceMarketOrder(ctx, domain.OrderSpec{
			Symbol:   req.Symbol,
			Side:     sideB,
			Quantity: req.Quantity,
			Leverage: req.Leverage,
		})
		if err != nil {
			errB = err
			step("[%s] place %s order: FAILED: %v", nameB, sideB, err)
		} else {
			step("[%s] place %s order: %v tokens at %dx: OK (order %s)", nameB, sideB, req.Quantity, req.Leverage, orderB.OrderID)
		}
	}

	if errB != nil {
		return e.rollback(ctx, req, sideA, sideB, priceA, priceB, errB, logs, log)
	}

	e.appendRecord(ctx, req, sideA, sideB, priceA, priceB, domain.TradeStatusOpen, step)
	log.Info("trade open", slog.String("side_a", string(sideA)), slog.String("side_b", string(sideB)))
	e.publish(req, domain.TradeStatusOpen)

	status := domain.TradeStatusOpen
	return domain.ExecutionResult{
		Success: true,
		Status:  &status,
		Message: "Trade successful",
		Logs:    logs.lines,
	}
}

// rollback compensates the already-open leg A after a leg B failure. The
// terminal status is FAILED_ROLLBACK whether or not the close itself
// succeeds; a failed close additionally pages the operator, since an
// un-hedged position may remain open on venue A.
func (e *Executor) rollback(
	ctx context.Context,
	req domain.TradeRequest,
	sideA, sideB domain.Side,
	priceA, priceB float64,
	errB error,
	logs *stepLog,
	log *slog.Logger,
) domain.ExecutionResult {
	step := logs.addf
	nameA := e.venueA.Name()

	closeErr := e.venueA.ClosePosition(ctx, domain.CloseSpec{
		Symbol:   req.Symbol,
		Side:     sideA.Opposite(),
		Quantity: req.Quantity,
	})
	if closeErr != nil {
		step("[%s] rollback: close position FAILED: %v: MANUAL INTERVENTION REQUIRED", nameA, closeErr)
		log.Error("rollback failed, manual intervention required",
			slog.String("leg_b_error", errB.Error()),
			slog.String("close_error", closeErr.Error()),
		)
		if e.notifier != nil {
			msg := fmt.Sprintf("symbol %s qty %v: leg B failed (%v) and the compensating close on %s also failed (%v). Leg A may still be open.",
				req.Symbol, req.Quantity, errB, nameA, closeErr)
			if nerr := e.notifier.Notify(ctx, "rollback_failed", "Rollback failed", msg); nerr != nil {
				log.Warn("operator notification failed", slog.String("error", nerr.Error()))
			}
		}
	} else {
		step("[%s] rollback: close position: OK", nameA)
		log.Warn("leg B failed, leg A rolled back", slog.String("leg_b_error", errB.Error()))
	}

	e.appendRecord(ctx, req, sideA, sideB, priceA, priceB, domain.TradeStatusFailedRollback, step)
	e.publish(req, domain.TradeStatusFailedRollback)

	status := domain.TradeStatusFailedRollback
	return domain.ExecutionResult{
		Success: false,
		Status:  &status,
		Message: "Trade failed. First order rolled back.",
		Logs:    logs.lines,
	}
}

// checkMargin verifies that quantity*price/leverage fits inside the venue's
// available balance.
func (e *Executor) checkMargin(
	ctx context.Context,
	adapter domain.VenueAdapter,
	req domain.TradeRequest,
	price float64,
	logs *stepLog,
) (domain.ExecutionResult, bool) {
	step := logs.addf
	balance, err := adapter.AvailableBalance(ctx)
	if err != nil {
		step("%s balance check failed: %v", adapter.Name(), err)
		return rejectWithLogs(fmt.Sprintf("balance unavailable on %s: %v", adapter.Name(), err), logs.lines), false
	}
	margin := req.Quantity * price / float64(req.Leverage)
	if margin > balance {
		step("%s margin %.2f exceeds available balance %.2f", adapter.Name(), margin, balance)
		return rejectWithLogs(
			fmt.Sprintf("insufficient balance on %s: required margin %.2f USDT, available %.2f USDT", adapter.Name(), margin, balance),
			logs.lines,
		), false
	}
	step("%s margin check: %.2f of %.2f USDT: OK", adapter.Name(), margin, balance)
	return domain.ExecutionResult{}, true
}

// resolveSides re-derives the leg directions from current funding rates:
// higher rate is shorted. When either rate is missing the original
// convention applies: first venue long, second venue short.
func (e *Executor) resolveSides(ctx context.Context, symbol string) (domain.Side, domain.Side) {
	snap := e.source.Snapshot(ctx)
	instA, okA := snap.VenueA.Index()[symbol]
	instB, okB := snap.VenueB.Index()[symbol]
	if okA && okB && instA.FundingRate != nil && instB.FundingRate != nil {
		if *instA.FundingRate > *instB.FundingRate {
			return domain.SideShort, domain.SideLong
		}
		return domain.SideLong, domain.SideShort
	}
	return defaultSideA, defaultSideB
}

// Default directions when funding rates cannot be resolved at execution time.
const (
	defaultSideA = domain.SideLong
	defaultSideB = domain.SideShort
)

// appendRecord writes the terminal trade record. Append failures are logged
// into the step log but do not change the execution outcome: the trade
// already happened.
func (e *Executor) appendRecord(
	ctx context.Context,
	req domain.TradeRequest,
	sideA, sideB domain.Side,
	priceA, priceB float64,
	status domain.TradeStatus,
	step func(string, ...any),
) {
	rec := domain.TradeRecord{
		ID:        uuid.New().String(),
		Symbol:    req.Symbol,
		EntryTime: e.now().UTC(),
		Quantity:  req.Quantity,
		Leverage:  req.Leverage,
		SideA:     sideA,
		SideB:     sideB,
		Status:    status,
	}
	if priceA > 0 {
		rec.EntryPriceA = &priceA
	}
	if priceB > 0 {
		rec.EntryPriceB = &priceB
	}

	if _, err := e.ledger.Append(ctx, rec); err != nil {
		step("ledger append failed: %v", err)
		e.logger.Error("trade record append failed",
			slog.String("symbol", req.Symbol),
			slog.String("status", string(status)),
			slog.String("error", err.Error()),
		)
		return
	}
	step("trade logged as %s", status)
}

func (e *Executor) publish(req domain.TradeRequest, status domain.TradeStatus) {
	if e.sink == nil {
		return
	}
	e.sink.Publish("trade_executed", map[string]any{
		"symbol":   req.Symbol,
		"quantity": req.Quantity,
		"leverage": req.Leverage,
		"status":   string(status),
	})
}

func validSymbol(symbol string) bool {
	if symbol == "" {
		return false
	}
	for i := 1; i < len(symbol)-1; i++ {
		if symbol[i] == '/' {
			return true
		}
	}
	return false
}

func reject(message string) domain.ExecutionResult {
	return rejectWithLogs(message, nil)
}

func rejectWithLogs(message string, logs []string) domain.ExecutionResult {
	if len(logs) == 0 {
		logs = []string{message}
	}
	return domain.ExecutionResult{
		Success: false,
		Status:  nil,
		Message: message,
		Logs:    logs,
	}
}
