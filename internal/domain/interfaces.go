package domain

import (
	"context"
)

// FeedClient defines the streaming feed connector the coordinator drives.
type FeedClient interface {
	Connect(ctx context.Context) error
	Disconnect()
	Subscribe(symbols []string) error
	Unsubscribe(symbols []string) error
	IsConnected() bool

	// Updates carries parsed ticker updates.
	Updates() <-chan PriceUpdate
	// Status flips on every connected/disconnected transition.
	Status() <-chan bool
	// Fatal reports a permanent feed failure after the retry cap is hit.
	Fatal() <-chan error
}

// SnapshotAPI defines the request/response market data source.
type SnapshotAPI interface {
	ListSymbols(ctx context.Context) ([]SymbolInfo, error)
	FetchTicker(ctx context.Context, baseCurrency string, limit int) ([]TickerEntry, error)
	FetchSeries(ctx context.Context, symbol, interval string, limit int, cursor int64) (*ChartSeries, error)
	FetchGlobalStats(ctx context.Context) (*GlobalStats, error)
	FetchPage(ctx context.Context, pageNumber, pageSize int, baseCurrency string) (*SymbolPage, error)
}

// KVStore is the opaque persistent key-value store backing the cache and
// user preferences.
type KVStore interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
	DeleteAll(prefix string) error
}
