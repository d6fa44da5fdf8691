package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UpdateSource indicates which pipeline last wrote a SymbolMarketView.
type UpdateSource string

const (
	SourceSnapshot UpdateSource = "SNAPSHOT"
	SourceStream   UpdateSource = "STREAM"
)

// SymbolMarketView is the merged per-symbol view owned by the coordinator.
// Snapshot refreshes replace it wholesale; stream updates patch the
// price/change/volume fields only.
type SymbolMarketView struct {
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	ChangePercent24h decimal.Decimal `json:"change_percent_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	LastUpdateSource UpdateSource    `json:"last_update_source"`
	LastUpdateTime   time.Time       `json:"last_update_time"`
}

// PriceUpdate is an incremental ticker update emitted by the feed client.
type PriceUpdate struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Volume        decimal.Decimal `json:"volume"`
	Timestamp     time.Time       `json:"timestamp"`
}

// SymbolInfo is one entry of the tradable symbol universe.
type SymbolInfo struct {
	ID     string `json:"id"`     // Full pair, e.g. "BTCUSDT"
	Symbol string `json:"symbol"` // Base asset, e.g. "BTC"
	Name   string `json:"name"`
}

// TickerEntry is a 24h ticker snapshot for one symbol.
type TickerEntry struct {
	ID               string          `json:"id"`
	Symbol           string          `json:"symbol"`
	Price            decimal.Decimal `json:"price"`
	ChangePercent24h decimal.Decimal `json:"change_percent_24h"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
}

// SeriesPoint is a single (timestamp, close) observation.
type SeriesPoint struct {
	Timestamp int64           `json:"ts"` // Unix milliseconds
	Close     decimal.Decimal `json:"close"`
}

// ChartSeries holds one symbol/interval historical series. It is immutable
// once fetched and replaced wholesale on symbol or timeframe change.
type ChartSeries struct {
	Symbol        string        `json:"symbol"`
	Interval      string        `json:"interval"`
	Points        []SeriesPoint `json:"points"`
	LastTimestamp int64         `json:"last_timestamp"` // Cursor for the next page
}

// GlobalStats aggregates market-wide totals. Fallback is set when the
// upstream was unreachable and fixed substitute values were returned.
type GlobalStats struct {
	TotalMarketCap  decimal.Decimal `json:"total_market_cap"`
	TotalVolume     decimal.Decimal `json:"total_volume"`
	MarketCapChange decimal.Decimal `json:"market_cap_change"`
	BTCDominance    decimal.Decimal `json:"btc_dominance"`
	Fallback        bool            `json:"fallback"`
	LastUpdated     time.Time       `json:"last_updated"`
}

// SymbolPage is one client-side page over the full ranked ticker set.
type SymbolPage struct {
	Items       []TickerEntry `json:"items"`
	CurrentPage int           `json:"current_page"`
	TotalPages  int           `json:"total_pages"`
}
