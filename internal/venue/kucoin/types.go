package kucoin

// envelope is the common KuCoin response wrapper. A code other than okCode
// indicates an API-level failure even when HTTP status is 200.
type envelope struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

const okCode = "200000"

// contract is one row of GET /api/v1/contracts/active. Quantities are in
// lots; Multiplier converts lots to base-currency tokens.
type contract struct {
	Symbol                 string   `json:"symbol"`
	BaseCurrency           string   `json:"baseCurrency"`
	QuoteCurrency          string   `json:"quoteCurrency"`
	Status                 string   `json:"status"`
	FundingFeeRate         *float64 `json:"fundingFeeRate"`
	NextFundingRateTime    *int64   `json:"nextFundingRateTime"`    // countdown, ms
	FundingRateGranularity *int64   `json:"fundingRateGranularity"` // ms
	LotSize                float64  `json:"lotSize"`
	Multiplier             float64  `json:"multiplier"`
}

type contractsResponse struct {
	envelope
	Data []contract `json:"data"`
}

type contractResponse struct {
	envelope
	Data contract `json:"data"`
}

type markPriceResponse struct {
	envelope
	Data struct {
		Symbol string  `json:"symbol"`
		Value  float64 `json:"value"`
	} `json:"data"`
}

type accountOverviewResponse struct {
	envelope
	Data struct {
		Currency         string  `json:"currency"`
		AvailableBalance float64 `json:"availableBalance"`
	} `json:"data"`
}

type placeOrderResponse struct {
	envelope
	Data struct {
		OrderID string `json:"orderId"`
	} `json:"data"`
}

type orderPayload struct {
	ClientOid  string `json:"clientOid"`
	Symbol     string `json:"symbol"`
	Side       string `json:"side"`
	Type       string `json:"type"`
	Leverage   string `json:"leverage,omitempty"`
	Size       int64  `json:"size"`
	ReduceOnly bool   `json:"reduceOnly,omitempty"`
}
