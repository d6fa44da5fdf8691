package binance

import "time"

const (
	defaultRestURL      = "https://api.binance.com/api/v3"
	defaultWSURL        = "wss://stream.binance.com:9443/ws"
	defaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	requestTimeout   = 10 * time.Second

	// Reconnect policy: linear backoff baseDelay * attempt, hard cap on
	// consecutive failures. After the cap the client stays disconnected
	// until Connect is called again.
	defaultBaseDelay   = 5 * time.Second
	defaultMaxAttempts = 5
)

// subscribeRequest is the outbound control frame for the ticker stream.
type subscribeRequest struct {
	Method string   `json:"method"` // "SUBSCRIBE" or "UNSUBSCRIBE"
	Params []string `json:"params"` // "<symbol><quote>@ticker", lower-cased
	ID     int64    `json:"id"`
}

// tickerEvent is the inbound 24hrTicker data frame. Numeric fields arrive
// as strings.
type tickerEvent struct {
	EventType     string `json:"e"` // "24hrTicker"
	EventTime     int64  `json:"E"` // Unix milliseconds
	Symbol        string `json:"s"` // Full pair, e.g. "BTCUSDT"
	LastPrice     string `json:"c"`
	PriceChange   string `json:"p"`
	ChangePercent string `json:"P"`
	Volume        string `json:"v"`
	QuoteVolume   string `json:"q"`
}

// exchangeInfoResponse carries the tradable symbol universe.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Status     string `json:"status"`
	} `json:"symbols"`
}

// ticker24hEntry is one element of the 24h ticker statistics response.
type ticker24hEntry struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
}

// coinGeckoGlobalResponse wraps CoinGecko's /global payload.
type coinGeckoGlobalResponse struct {
	Data struct {
		TotalMarketCap      map[string]float64 `json:"total_market_cap"`
		TotalVolume         map[string]float64 `json:"total_volume"`
		MarketCapChange24h  float64            `json:"market_cap_change_percentage_24h_usd"`
		MarketCapPercentage map[string]float64 `json:"market_cap_percentage"`
	} `json:"data"`
}
