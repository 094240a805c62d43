// Package bybit implements the venue adapter for Bybit v5 linear perpetuals.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/venue"
)

// VenueName is the identifier this adapter reports through Name().
const VenueName = "bybit"

const (
	// retCodeOK is Bybit's success code.
	retCodeOK = 0
	// retCodeSystemBusy surfaces when a pooled connection hits a node that
	// has not finished symbol propagation; one retry on a fresh connection
	// resolves it. The only retried code.
	retCodeSystemBusy = 10016
	// retCodeLeverageNotModified is returned by set-leverage when the
	// requested leverage already applies. Not an error for our purposes.
	retCodeLeverageNotModified = 110043
)

// authRetCodes are credential-level failures.
var authRetCodes = map[int]bool{
	10003: true, // api key invalid
	10004: true, // signature error
	10005: true, // permission denied
	33004: true, // api key expired
}

// rejectedRetCodes are order-level refusals.
var rejectedRetCodes = map[int]bool{
	110007: true, // insufficient available balance
	110009: true, // position limit
	10001:  true, // parameter error (bad symbol / qty step)
}

// Config holds the client parameters.
type Config struct {
	BaseURL    string
	ApiKey     string
	ApiSecret  string
	RecvWindow int // milliseconds
	Timeout    time.Duration
}

// Client is the REST adapter for Bybit v5. It implements domain.VenueAdapter.
type Client struct {
	cfg  Config
	http *http.Client
	now  func() time.Time
}

// NewClient creates a Bybit client. Market endpoints work without
// credentials; balance and order endpoints require key and secret.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bybit.com"
	}
	if cfg.RecvWindow <= 0 {
		cfg.RecvWindow = 5000
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
	return c.cfg.ApiKey != "" && c.cfg.ApiSecret != ""
}

// FundingSnapshot joins the linear tickers feed (rates, mark prices, next
// funding times) with instruments-info (funding interval, lot sizes) and
// returns the normalized USDT perpetual set.
func (c *Client) FundingSnapshot(ctx context.Context) ([]domain.Instrument, error) {
	var tickers tickersResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.get(ctx, "/v5/market/tickers", "category=linear", &tickers, false)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("bybit: tickers: %w", err)
	}

	var infos instrumentsResponse
	err = venue.RetryOnce(ctx, func() error {
		return c.get(ctx, "/v5/market/instruments-info", "category=linear&limit=1000", &infos, false)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return nil, fmt.Errorf("bybit: instruments info: %w", err)
	}

	infoBySymbol := make(map[string]instrumentInfo, len(infos.Result.List))
	for _, info := range infos.Result.List {
		if info.ContractType == "LinearPerpetual" && info.QuoteCoin == "USDT" && info.Status == "Trading" {
			infoBySymbol[info.Symbol] = info
		}
	}

	out := make([]domain.Instrument, 0, len(tickers.Result.List))
	for _, tk := range tickers.Result.List {
		info, ok := infoBySymbol[tk.Symbol]
		if !ok {
			continue
		}
		out = append(out, buildInstrument(tk, info))
	}
	return out, nil
}

// buildInstrument merges one ticker row with its instrument metadata.
// Funding intervals that are not whole hours stay nil.
func buildInstrument(tk ticker, info instrumentInfo) domain.Instrument {
	inst := domain.Instrument{Symbol: NormalizeSymbol(tk.Symbol)}

	if rate, err := strconv.ParseFloat(tk.FundingRate, 64); err == nil && tk.FundingRate != "" {
		inst.FundingRate = &rate
	}
	if info.FundingInterval > 0 && info.FundingInterval%60 == 0 {
		h := info.FundingInterval / 60
		inst.FundingInterval = &h
	}
	if ms, err := strconv.ParseInt(tk.NextFundingTime, 10, 64); err == nil && ms > 0 {
		next := time.UnixMilli(ms).UTC()
		inst.NextFundingTime = &next
	}
	if q, err := strconv.ParseFloat(info.LotSizeFilter.MinOrderQty, 64); err == nil {
		inst.MinOrderQty = q
	}
	if q, err := strconv.ParseFloat(info.LotSizeFilter.QtyStep, 64); err == nil {
		inst.QtyStep = q
	}
	return inst
}

// MarkPrice fetches the current mark price for a normalized symbol.
func (c *Client) MarkPrice(ctx context.Context, symbol string) (float64, error) {
	query := "category=linear&symbol=" + VenueSymbol(symbol)
	var resp tickersResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.get(ctx, "/v5/market/tickers", query, &resp, false)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return 0, fmt.Errorf("bybit: mark price %s: %w", symbol, err)
	}
	if len(resp.Result.List) == 0 {
		return 0, fmt.Errorf("bybit: mark price %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	price, err := strconv.ParseFloat(resp.Result.List[0].MarkPrice, 64)
	if err != nil || price <= 0 {
		return 0, fmt.Errorf("bybit: mark price %s: %w", symbol, domain.ErrPriceUnavailable)
	}
	return price, nil
}

// AvailableBalance returns the unified account's total available balance.
func (c *Client) AvailableBalance(ctx context.Context) (float64, error) {
	if !c.authenticated() {
		return 0, fmt.Errorf("bybit: balance: %w", domain.ErrUnauthenticated)
	}
	var resp walletBalanceResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.get(ctx, "/v5/account/wallet-balance", "accountType=UNIFIED", &resp, true)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return 0, fmt.Errorf("bybit: balance: %w", err)
	}
	if len(resp.Result.List) == 0 {
		return 0, nil
	}
	bal, err := strconv.ParseFloat(resp.Result.List[0].TotalAvailableBalance, 64)
	if err != nil {
		return 0, fmt.Errorf("bybit: balance: parse %q: %w", resp.Result.List[0].TotalAvailableBalance, err)
	}
	return bal, nil
}

// PlaceMarketOrder opens a leg with a market order, setting leverage first.
// A "leverage not modified" response from set-leverage is ignored.
func (c *Client) PlaceMarketOrder(ctx context.Context, spec domain.OrderSpec) (domain.OrderResult, error) {
	if !c.authenticated() {
		return domain.OrderResult{}, fmt.Errorf("bybit: place order: %w", domain.ErrUnauthenticated)
	}

	lev := strconv.Itoa(spec.Leverage)
	levReq := setLeverageRequest{
		Category:     "linear",
		Symbol:       VenueSymbol(spec.Symbol),
		BuyLeverage:  lev,
		SellLeverage: lev,
	}
	var levResp emptyResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.post(ctx, "/v5/position/set-leverage", levReq, &levResp)
	}, c.http.CloseIdleConnections)
	if err != nil && !isLeverageNoop(err) {
		return domain.OrderResult{}, fmt.Errorf("bybit: set leverage %s: %w", spec.Symbol, err)
	}

	req := orderCreateRequest{
		Category:  "linear",
		Symbol:    VenueSymbol(spec.Symbol),
		Side:      orderSide(spec.Side),
		OrderType: "Market",
		Qty:       strconv.FormatFloat(spec.Quantity, 'f', -1, 64),
	}
	var resp orderCreateResponse
	err = venue.RetryOnce(ctx, func() error {
		return c.post(ctx, "/v5/order/create", req, &resp)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("bybit: place order %s: %w", spec.Symbol, err)
	}
	return domain.OrderResult{OrderID: resp.Result.OrderID}, nil
}

// ClosePosition unwinds a leg with a reduce-only market order on the given
// (already opposite) side.
func (c *Client) ClosePosition(ctx context.Context, spec domain.CloseSpec) error {
	if !c.authenticated() {
		return fmt.Errorf("bybit: close position: %w", domain.ErrUnauthenticated)
	}
	req := orderCreateRequest{
		Category:   "linear",
		Symbol:     VenueSymbol(spec.Symbol),
		Side:       orderSide(spec.Side),
		OrderType:  "Market",
		Qty:        strconv.FormatFloat(spec.Quantity, 'f', -1, 64),
		ReduceOnly: true,
	}
	var resp orderCreateResponse
	err := venue.RetryOnce(ctx, func() error {
		return c.post(ctx, "/v5/order/create", req, &resp)
	}, c.http.CloseIdleConnections)
	if err != nil {
		return fmt.Errorf("bybit: close position %s: %w", spec.Symbol, err)
	}
	return nil
}

func isLeverageNoop(err error) bool {
	var ve *domain.VenueError
	return errors.As(err, &ve) && ve.Code == strconv.Itoa(retCodeLeverageNotModified)
}

func orderSide(s domain.Side) string {
	if s == domain.SideLong {
		return "Buy"
	}
	return "Sell"
}

// NormalizeSymbol maps a Bybit linear symbol to the normalized "BASE/USDT"
// form, e.g. "BTCUSDT" -> "BTC/USDT".
func NormalizeSymbol(venueSymbol string) string {
	base := strings.TrimSuffix(venueSymbol, "USDT")
	return base + "/USDT"
}

// VenueSymbol maps "BASE/USDT" to Bybit's naming, e.g. "BTC/USDT" ->
// "BTCUSDT".
func VenueSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "")
}

func (c *Client) get(ctx context.Context, path, query string, out any, signed bool) error {
	url := c.cfg.BaseURL + path
	if query != "" {
		url += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if signed {
		c.sign(req, query)
	}
	return c.roundTrip(req, out)
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.sign(req, string(body))
	return c.roundTrip(req, out)
}

// sign applies X-BAPI headers: HMAC-SHA256 hex over
// timestamp + apiKey + recvWindow + payload.
func (c *Client) sign(req *http.Request, payload string) {
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	window := strconv.Itoa(c.cfg.RecvWindow)

	mac := hmac.New(sha256.New, []byte(c.cfg.ApiSecret))
	mac.Write([]byte(ts + c.cfg.ApiKey + window + payload))

	req.Header.Set("X-BAPI-API-KEY", c.cfg.ApiKey)
	req.Header.Set("X-BAPI-TIMESTAMP", ts)
	req.Header.Set("X-BAPI-RECV-WINDOW", window)
	req.Header.Set("X-BAPI-SIGN", hex.EncodeToString(mac.Sum(nil)))
}

func (c *Client) roundTrip(req *http.Request, out any) error {
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
		return &domain.VenueError{
			Venue:   VenueName,
			Message: fmt.Sprintf("http %d: %s", httpResp.StatusCode, strings.TrimSpace(string(data))),
			Kind:    domain.KindUnknown,
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if env := envelopeOf(out); env != nil && env.RetCode != retCodeOK {
		return &domain.VenueError{
			Venue:   VenueName,
			Code:    strconv.Itoa(env.RetCode),
			Message: env.RetMsg,
			Kind:    kindFor(env.RetCode),
		}
	}
	return nil
}

func kindFor(retCode int) domain.ErrKind {
	switch {
	case retCode == retCodeSystemBusy:
		return domain.KindTransient
	case authRetCodes[retCode]:
		return domain.KindAuth
	case rejectedRetCodes[retCode]:
		return domain.KindRejected
	default:
		return domain.KindUnknown
	}
}

func envelopeOf(out any) *envelope {
	switch v := out.(type) {
	case *tickersResponse:
		return &v.envelope
	case *instrumentsResponse:
		return &v.envelope
	case *walletBalanceResponse:
		return &v.envelope
	case *orderCreateResponse:
		return &v.envelope
	case *emptyResponse:
		return &v.envelope
	}
	return nil
}
