package cache

import (
	"fmt"
	"time"
)

// Prefix namespaces every cache entry in the persistent store. Maintenance
// operations (sweep, eviction, clear) never touch keys outside it.
const Prefix = "crypto_dashboard_"

// TTL policy per data kind. The store itself is TTL-agnostic; callers pass
// the constant matching what they cache.
const (
	TTLTicker  = 5 * time.Minute
	TTLChart   = 30 * time.Minute
	TTLSymbols = 24 * time.Hour
	TTLGlobal  = 15 * time.Minute
)

// SymbolsKey keys the tradable symbol universe.
func SymbolsKey() string {
	return Prefix + "symbols"
}

// TickerKey keys a 24h ticker snapshot for one base currency and limit.
func TickerKey(baseCurrency string, limit int) string {
	return fmt.Sprintf("%smarket_%s_%d", Prefix, baseCurrency, limit)
}

// SeriesKey keys a chart series. Distinct parameterizations never collide;
// the cursor participates only when set.
func SeriesKey(symbol, interval string, limit int, cursor int64) string {
	if cursor > 0 {
		return fmt.Sprintf("%schart_%s_%s_%d_%d", Prefix, symbol, interval, limit, cursor)
	}
	return fmt.Sprintf("%schart_%s_%s_%d", Prefix, symbol, interval, limit)
}

// GlobalKey keys the aggregate market stats.
func GlobalKey() string {
	return Prefix + "global_data"
}
