// Package kucoin implements the venue adapter for KuCoin Futures.
package kucoin

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

// VenueName is the identifier this adapter reports through Name().
const VenueName = "kucoin"

// codeStaleSymbol shows up when a pooled connection resolves a symbol against
// stale contract metadata; a fresh connection clears it. It is the only code
// the adapter retries.
const codeStaleSymbol = "100010"

// authCodes are KuCoin API error codes for missing/invalid credentials.
var authCodes = map[string]bool{
	"400001": true, // header missing
	"400002": true, // timestamp invalid
	"400003": true, // key not found
	"400004": true, // passphrase error
	"400005": true, // signature error
	"400006": true, // IP not allowed
}

// rejectedCodes are order-level refusals: the venue understood the request
// and said no.
var rejectedCodes = map[string]bool{
	"200004": true, // insufficient balance
	"300003": true, // order size below minimum
	"300012": true, // symbol not tradable
}

// Config holds the client parameters.
type Config struct {
	BaseURL       string
	ApiKey        string
	ApiSecret     string
	ApiPassphrase string
	SymbolLimit   int
	Timeout       time.Duration
}

// Client is the REST adapter for KuCoin Futures. It implements
// domain.VenueAdapter.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient creates a KuCoin Futures client. Public endpoints work without
// credentials; balance and order endpoints require key, secret, and
// passphrase.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api-futures.kucoin.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		now:  time.Now,
	}
}

// Name returns the venue identifier.
func (c *Client) Name() string { return VenueName }

func (c *Client) authenticated() bool {
	return c.cfg.ApiKey != "" && c.cfg.ApiSecret != "" && c.cfg.ApiPassphrase != ""
}

// FundingSnapshot fetches all active USDT perpetual contracts and normalizes
// them. The list is capped at SymbolLimit to stay inside venue rate limits.
func (c *Client) FundingSnapshot(ctx context.Context) ([]domain.Instrument, error) {
	var resp contractsResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/api/v1/contracts/active", &resp, false)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("kucoin: funding snapshot: %w", err)
	}

	out := make([]domain.Instrument, 0, len(resp.Data))
	for _, ct := range resp.Data {
		if ct.QuoteCurrency != "USDT" || ct.Status != "Open" {
			continue
		}
		if c.cfg.SymbolLimit > 0 && len(out) >= c.cfg.SymbolLimit {
			break
		}
		out = append(out, c.instrument(ct))
	}
	return out, nil
}

// instrument converts one contract row to the normalized form. Funding
// intervals that do not land on whole hours stay nil rather than being
// rounded.
func (c *Client) instrument(ct contract) domain.Instrument {
	inst := domain.Instrument{
		Symbol:      NormalizeSymbol(ct.BaseCurrency),
		FundingRate: ct.FundingFeeRate,
		MinOrderQty: ct.LotSize * ct.Multiplier,
		QtyStep:     ct.Multiplier,
	}
	if g := ct.FundingRateGranularity; g != nil && *g > 0 && *g%3600000 == 0 {
		h := int(*g / 3600000)
		inst.FundingInterval = &h
	}
	// nextFundingRateTime is a countdown in milliseconds, not a timestamp.
	if t := ct.NextFundingRateTime; t != nil && *t > 0 {
		next := c.now().Add(time.Duration(*t) * time.Millisecond).UTC()
		inst.NextFundingTime = &next
	}
	return inst
}

// MarkPrice fetches the current mark price for a normalized symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	path := fmt.Sprintf("/api/v1/mark-price/%s/current", VenueSymbol(symbol))
	var resp markPriceResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, &resp, false)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return 0, fmt.Errorf("kucoin: mark price %s: %w", symbol, err)
	}
	if resp.Data.Value <= 0 {
		return 0, fmt.Errorf("kucoin: mark price %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return resp.Data.Value, nil
}

// AvailableBalance returns the free USDT margin balance of the futures
// account.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	if !c.authenticated() {
		return 0, fmt.Errorf("kucoin: balance: %w", domain.ErrUnauthenticated)
	}
	var resp accountOverviewResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.do(ctx, http.MethodGet, "/api/v1/account-overview?currency=USDT", &resp, true)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return 0, fmt.Errorf("kucoin: balance: %w", err)
	}
	return resp.Data.AvailableBalance, nil
}

// PlaceMarketOrder opens a leg with a market order. KuCoin sizes orders in
// lots, so the token quantity is converted using the contract multiplier.
func (c *Client) PlaceMarketOrder(ctx context.Context, spec domain.OrderSpec) (domain.OrderResult, error) {
	lots, err := c.lots(ctx, spec.Symbol, spec.Quantity)
	if err != nil {
		return domain.OrderResult{}, err
	}

	payload := orderPayload{
		ClientOid: uuid.New().String(),
		Symbol:    VenueSymbol(spec.Symbol),
		Side:      orderSide(spec.Side),
		Type:      "market",
		Leverage:  strconv.Itoa(spec.Leverage),
		Size:      lots,
	}
	resp, err := c.submitOrder(ctx, payload)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("kucoin: place order %s: %w", spec.Symbol, err)
	}
	return domain.OrderResult{OrderID: resp.Data.OrderID}, nil
}

// ClosePosition unwinds a leg with a reduce-only market order on the given
// (already opposite) side.
func (c *Client) ClosePosition(ctx context.Context, spec domain.CloseSpec) error {
	lots, err := c.lots(ctx, spec.Symbol, spec.Quantity)
	if err != nil {
		return err
	}

	payload := orderPayload{
		ClientOid:  uuid.New().String(),
		Symbol:     VenueSymbol(spec.Symbol),
		Side:       orderSide(spec.Side),
		Type:       "market",
		Size:       lots,
		ReduceOnly: true,
	}
	if _, err := c.submitOrder(ctx, payload); err != nil {
		return fmt.Errorf("kucoin: close position %s: %w", spec.Symbol, err)
	}
	return nil
}

// lots converts a token quantity to whole contract lots.
func (c *Client) lots(ctx context.Context, symbol string, quantity float64) (int64, error) {
	path := "/api/v1/contracts/" + VenueSymbol(symbol)
	var resp contractResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.do(ctx, http.MethodGet, path, &resp, false)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return 0, fmt.Errorf("kucoin: contract %s: %w", symbol, err)
	}
	if resp.Data.Multiplier <= 0 {
		return 0, &domain.VenueError{Venue: VenueName, Message: "contract " + symbol + " has no multiplier", Kind: domain.KindRejected}
	}
	lots := int64(math.Floor(quantity / resp.Data.Multiplier))
	if lots < 1 {
		return 0, &domain.VenueError{
			Venue:   VenueName,
			Message: fmt.Sprintf("quantity %v below one lot (%v tokens)", quantity, resp.Data.Multiplier),
			Kind:    domain.KindRejected,
		}
	}
	return lots, nil
}

func (c *Client) submitOrder(ctx context.Context, payload orderPayload) (placeOrderResponse, error) {
	var resp placeOrderResponse
	if !c.authenticated() {
		return resp, domain.ErrUnauthenticated
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return resp, err
	}
	err = venue.RetryOnce(ctx, func() error {
		return c.doBody(ctx, http.MethodPost, "/api/v1/orders", body, &resp, true)
	}, c.http.CloseIdleConnections)
	return resp, err
}

func orderSide(s domain.Side) string {
	if s == domain.SideLong {
		return "buy"
	}
	return "sell"
}

// NormalizeSymbol maps a KuCoin base currency to the normalized "BASE/USDT"
// form. KuCoin names Bitcoin XBT.
func NormalizeSymbol(base string) string {
	if base == "XBT" {
		base = "BTC"
	}
	return base + "/USDT"
}

// VenueSymbol maps a normalized "BASE/USDT" symbol to KuCoin's contract
// naming, e.g. "BTC/USDT" -> "XBTUSDTM".
func VenueSymbol(symbol string) string {
	base, _, ok := strings.Cut(symbol, "/")
	if !ok {
		base = symbol
	}
	if base == "BTC" {
		base = "XBT"
	}
	return base + "USDTM"
}

func (c *Client) do(ctx context.Context, method, pathWithQuery string, out any, signed bool) error {
	return c.doBody(ctx, method, pathWithQuery, nil, out, signed)
}

// doBody performs one HTTP round trip, applies KC-API signing when requested,
// and maps API-level failures to classified VenueErrors.
func (c *Client) doBody(ctx context.Context, method, pathWithQuery string, body []byte, out any, signed bool) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+pathWithQuery, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(c.now().UnixMilli(), 10)
		sig := signBase64(c.cfg.ApiSecret, ts+method+pathWithQuery+string(body))
		req.Header.Set("KC-API-KEY", c.cfg.ApiKey)
		req.Header.Set("KC-API-SIGN", sig)
		req.Header.Set("KC-API-TIMESTAMP", ts)
		req.Header.Set("KC-API-PASSPHRASE", signBase64(c.cfg.ApiSecret, c.cfg.ApiPassphrase))
		req.Header.Set("KC-API-KEY-VERSION", "2")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 8<<20))
	if err != nil {
		return err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return c.apiError(httpResp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env := envelopeOf(out); env != nil && env.Code != okCode {
		return &domain.VenueError{Venue: VenueName, Code: env.Code, Message: env.Msg, Kind: kindFor(env.Code)}
	}
	return nil
}

// apiError builds a classified error from a non-2xx response, pulling the
// KuCoin code out of the body when one is present.
func (c *Client) apiError(status int, data []byte) error {
	var env envelope
	if json.Unmarshal(data, &env) == nil && env.Code != "" {
		return &domain.VenueError{Venue: VenueName, Code: env.Code, Message: env.Msg, Kind: kindFor(env.Code)}
	}
	return &domain.VenueError{
		Venue:   VenueName,
		Message: fmt.Sprintf("http %d: %s", status, strings.TrimSpace(string(data))),
		Kind:    domain.KindUnknown,
	}
}

func kindFor(code string) domain.ErrKind {
	switch {
	case code == codeStaleSymbol:
		return domain.KindTransient
	case authCodes[code]:
		return domain.KindAuth
	case rejectedCodes[code]:
		return domain.KindRejected
	default:
		return domain.KindUnknown
	}
}

// envelopeOf extracts the embedded envelope from a decoded response struct.
func envelopeOf(out any) *envelope {
	switch v := out.(type) {
	case *contractsResponse:
		return &v.envelope
	case *contractResponse:
		return &v.envelope
	case *markPriceResponse:
		return &v.envelope
	case *accountOverviewResponse:
		return &v.envelope
	case *placeOrderResponse:
		return &v.envelope
	}
	return nil
}

func signBase64(secret, payload string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
