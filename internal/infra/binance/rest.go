package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra/cache"

	"github.com/shopspring/decimal"
)

// Fallback values returned by FetchGlobalStats when the upstream is
// unreachable. Global stats are advisory; a stale-looking substitute beats
// an error surfaced to the user.
var (
	fallbackMarketCap    = decimal.NewFromInt(2345678901234)
	fallbackVolume       = decimal.NewFromInt(123456789012)
	fallbackCapChange    = decimal.NewFromFloat(2.5)
	fallbackBTCDominance = decimal.NewFromFloat(45.2)
)

// SnapshotClient fetches point-in-time market data over REST. Every call
// consults the cache store first and writes successful responses back with
// the data kind's TTL.
type SnapshotClient struct {
	restURL    string
	globalURL  string
	quote      string
	httpClient *http.Client
	cache      *cache.Store
}

// NewSnapshotClient creates a snapshot client over the given cache store.
func NewSnapshotClient(restURL, globalURL, quoteAsset string, store *cache.Store) *SnapshotClient {
	if restURL == "" {
		restURL = defaultRestURL
	}
	if globalURL == "" {
		globalURL = defaultCoinGeckoURL
	}
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}

	return &SnapshotClient{
		restURL:   restURL,
		globalURL: globalURL,
		quote:     strings.ToUpper(quoteAsset),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		cache: store,
	}
}

// ListSymbols returns the tradable symbol universe quoted in the configured
// quote asset.
func (c *SnapshotClient) ListSymbols(ctx context.Context) ([]domain.SymbolInfo, error) {
	key := cache.SymbolsKey()
	var cached []domain.SymbolInfo
	if ok, err := c.cache.Get(key, &cached); err == nil && ok {
		return cached, nil
	}

	var resp exchangeInfoResponse
	if err := c.getJSON(ctx, "exchangeInfo", c.restURL+"/exchangeInfo", &resp); err != nil {
		return nil, err
	}

	symbols := make([]domain.SymbolInfo, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		if s.QuoteAsset != c.quote {
			continue
		}
		symbols = append(symbols, domain.SymbolInfo{
			ID:     s.Symbol,
			Symbol: s.BaseAsset,
			Name:   s.BaseAsset,
		})
	}

	if err := c.cache.Set(key, symbols, cache.TTLSymbols); err != nil {
		slog.Warn("failed to cache symbol list", slog.Any("error", err))
	}
	return symbols, nil
}

// FetchTicker returns current price/change/volume for up to limit symbols
// quoted in baseCurrency. The upstream returns all pairs; filtering is
// client-side by quote suffix. limit <= 0 returns the full set.
func (c *SnapshotClient) FetchTicker(ctx context.Context, baseCurrency string, limit int) ([]domain.TickerEntry, error) {
	base := strings.ToUpper(baseCurrency)
	key := cache.TickerKey(base, limit)
	var cached []domain.TickerEntry
	if ok, err := c.cache.Get(key, &cached); err == nil && ok {
		return cached, nil
	}

	var resp []ticker24hEntry
	if err := c.getJSON(ctx, "ticker24h", c.restURL+"/ticker/24hr", &resp); err != nil {
		return nil, err
	}

	entries := make([]domain.TickerEntry, 0, limit)
	for _, item := range resp {
		if !strings.HasSuffix(item.Symbol, base) {
			continue
		}
		if limit > 0 && len(entries) >= limit {
			break
		}

		price, err1 := decimal.NewFromString(item.LastPrice)
		change, err2 := decimal.NewFromString(item.PriceChangePercent)
		volume, err3 := decimal.NewFromString(item.Volume)
		if err1 != nil || err2 != nil || err3 != nil {
			slog.Debug("skipping ticker entry with bad numerics", slog.String("symbol", item.Symbol))
			continue
		}

		entries = append(entries, domain.TickerEntry{
			ID:               item.Symbol,
			Symbol:           strings.TrimSuffix(item.Symbol, base),
			Price:            price,
			ChangePercent24h: change,
			Volume24h:        volume,
		})
	}

	if err := c.cache.Set(key, entries, cache.TTLTicker); err != nil {
		slog.Warn("failed to cache ticker data", slog.Any("error", err))
	}
	return entries, nil
}

// FetchSeries returns a historical close-price series for symbol. A cursor
// greater than zero is an exclusive lower time bound for incremental
// backfill; the returned LastTimestamp seeds the next page.
func (c *SnapshotClient) FetchSeries(ctx context.Context, symbol, interval string, limit int, cursor int64) (*domain.ChartSeries, error) {
	if !domain.ValidIntervals[interval] {
		return nil, domain.NewValidationError("interval", "unknown interval token: "+interval)
	}

	sym := strings.ToUpper(symbol)
	key := cache.SeriesKey(sym, interval, limit, cursor)
	var cached domain.ChartSeries
	if ok, err := c.cache.Get(key, &cached); err == nil && ok {
		return &cached, nil
	}

	pair := sym
	if !strings.HasSuffix(pair, c.quote) {
		pair += c.quote
	}

	q := url.Values{}
	q.Set("symbol", pair)
	q.Set("interval", interval)
	q.Set("limit", strconv.Itoa(limit))
	if cursor > 0 {
		// Exclusive lower bound
		q.Set("startTime", strconv.FormatInt(cursor+1, 10))
	}

	// Klines arrive as arrays: [openTime, open, high, low, close, volume, closeTime, ...]
	var raw [][]json.RawMessage
	if err := c.getJSON(ctx, "klines", c.restURL+"/klines?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	series := &domain.ChartSeries{
		Symbol:   sym,
		Interval: interval,
		Points:   make([]domain.SeriesPoint, 0, len(raw)),
	}
	for _, kline := range raw {
		if len(kline) < 5 {
			slog.Debug("skipping short kline row", slog.String("symbol", sym))
			continue
		}
		var openTime int64
		var closeStr string
		if err := json.Unmarshal(kline[0], &openTime); err != nil {
			continue
		}
		if err := json.Unmarshal(kline[4], &closeStr); err != nil {
			continue
		}
		closePrice, err := decimal.NewFromString(closeStr)
		if err != nil {
			continue
		}

		series.Points = append(series.Points, domain.SeriesPoint{
			Timestamp: openTime,
			Close:     closePrice,
		})
		if openTime > series.LastTimestamp {
			series.LastTimestamp = openTime
		}
	}

	if err := c.cache.Set(key, series, cache.TTLChart); err != nil {
		slog.Warn("failed to cache chart series", slog.Any("error", err))
	}
	return series, nil
}

// FetchGlobalStats returns aggregate market totals. Upstream failure yields
// fixed fallback values marked as such instead of an error.
func (c *SnapshotClient) FetchGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	key := cache.GlobalKey()
	var cached domain.GlobalStats
	if ok, err := c.cache.Get(key, &cached); err == nil && ok {
		return &cached, nil
	}

	var resp coinGeckoGlobalResponse
	if err := c.getJSON(ctx, "global", c.globalURL+"/global", &resp); err != nil {
		slog.Warn("global stats fetch failed, using fallback", slog.Any("error", err))
		return &domain.GlobalStats{
			TotalMarketCap:  fallbackMarketCap,
			TotalVolume:     fallbackVolume,
			MarketCapChange: fallbackCapChange,
			BTCDominance:    fallbackBTCDominance,
			Fallback:        true,
			LastUpdated:     time.Now(),
		}, nil
	}

	stats := &domain.GlobalStats{
		TotalMarketCap:  decimal.NewFromFloat(resp.Data.TotalMarketCap["usd"]),
		TotalVolume:     decimal.NewFromFloat(resp.Data.TotalVolume["usd"]),
		MarketCapChange: decimal.NewFromFloat(resp.Data.MarketCapChange24h),
		BTCDominance:    decimal.NewFromFloat(resp.Data.MarketCapPercentage["btc"]),
		LastUpdated:     time.Now(),
	}

	if err := c.cache.Set(key, stats, cache.TTLGlobal); err != nil {
		slog.Warn("failed to cache global stats", slog.Any("error", err))
	}
	return stats, nil
}

// FetchPage returns one page of the full symbol universe ranked by the
// server-side order. Page boundaries are computed client-side over the full
// fetched set, so an out-of-range pageNumber is an input error, not a
// network error.
func (c *SnapshotClient) FetchPage(ctx context.Context, pageNumber, pageSize int, baseCurrency string) (*domain.SymbolPage, error) {
	if pageNumber < 1 {
		return nil, domain.NewValidationError("pageNumber", "must be >= 1")
	}
	if pageSize < 1 {
		return nil, domain.NewValidationError("pageSize", "must be >= 1")
	}

	// Full set, cache-or-fetch
	all, err := c.FetchTicker(ctx, baseCurrency, 0)
	if err != nil {
		return nil, err
	}

	totalPages := int(math.Ceil(float64(len(all)) / float64(pageSize)))
	if totalPages == 0 {
		totalPages = 1
	}
	if pageNumber > totalPages {
		return nil, domain.NewValidationError("pageNumber",
			fmt.Sprintf("page %d out of range [1, %d]", pageNumber, totalPages))
	}

	start := (pageNumber - 1) * pageSize
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	return &domain.SymbolPage{
		Items:       all[start:end],
		CurrentPage: pageNumber,
		TotalPages:  totalPages,
	}, nil
}

// getJSON performs one GET and decodes the JSON response into out.
func (c *SnapshotClient) getJSON(ctx context.Context, op, rawURL string, out any) error {
	infra.SnapshotRequestsTotal.WithLabelValues(op).Inc()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.NewNetworkError(op, fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s response: %w", op, err)
	}
	return nil
}
