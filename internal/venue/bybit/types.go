package bybit

import "encoding/json"

// envelope is the common Bybit v5 response wrapper.
type envelope struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

// ticker is one row of GET /v5/market/tickers?category=linear. Bybit returns
// all numerics as strings.
type ticker struct {
	Symbol          string `json:"symbol"`
	MarkPrice       string `json:"markPrice"`
	FundingRate     string `json:"fundingRate"`
	NextFundingTime string `json:"nextFundingTime"` // unix ms
}

type tickersResponse struct {
	envelope
	Result struct {
		Category string   `json:"category"`
		List     []ticker `json:"list"`
	} `json:"result"`
}

// instrumentInfo is one row of GET /v5/market/instruments-info.
type instrumentInfo struct {
	Symbol          string `json:"symbol"`
	ContractType    string `json:"contractType"`
	Status          string `json:"status"`
	QuoteCoin       string `json:"quoteCoin"`
	FundingInterval int    `json:"fundingInterval"` // minutes
	LotSizeFilter   struct {
		MinOrderQty string `json:"minOrderQty"`
		QtyStep     string `json:"qtyStep"`
	} `json:"lotSizeFilter"`
}

type instrumentsResponse struct {
	envelope
	Result struct {
		Category       string           `json:"category"`
		List           []instrumentInfo `json:"list"`
		NextPageCursor string           `json:"nextPageCursor"`
	} `json:"result"`
}

type walletBalanceResponse struct {
	envelope
	Result struct {
		List []struct {
			AccountType           string `json:"accountType"`
			TotalAvailableBalance string `json:"totalAvailableBalance"`
		} `json:"list"`
	} `json:"result"`
}

type orderCreateResponse struct {
	envelope
	Result struct {
		OrderID string `json:"orderId"`
	} `json:"result"`
}

type emptyResponse struct {
	envelope
	Result json.RawMessage `json:"result"`
}

type orderCreateRequest struct {
	Category    string `json:"category"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Qty         string `json:"qty"`
	ReduceOnly  bool   `json:"reduceOnly,omitempty"`
	PositionIdx int    `json:"positionIdx"`
}

type setLeverageRequest struct {
	Category     string `json:"category"`
	Symbol       string `json:"symbol"`
	BuyLeverage  string `json:"buyLeverage"`
	SellLeverage string `json:"sellLeverage"`
}
