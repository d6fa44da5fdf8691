package app

import (
	"log/slog"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/infra"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra/binance"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra/cache"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra/storage"
	"github.com/Habbi2/Crypto-Dashboard/internal/service"

	"github.com/joho/godotenv"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Cache   *cache.Store
	Feed    *binance.FeedClient
	API     *binance.SnapshotClient
	Market  *service.MarketService
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (config, DB, cache, clients)
func (b *Bootstrap) Initialize() error {
	slog.Info("🚀 Bootstrapping Crypto Dashboard...")

	// 1. Local .env overrides, if present
	_ = godotenv.Load()

	// 2. Load Config
	cfg, err := infra.LoadConfig("configs/config.yaml")
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 3. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 4. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Cache.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized")

	// 5. Cache layer on top of storage, with a startup sweep
	b.Cache = cache.NewStore(store)
	if removed, err := b.Cache.SweepExpired(); err != nil {
		slog.Warn("Cache sweep failed", slog.Any("error", err))
	} else if removed > 0 {
		slog.Info("✅ Expired cache entries swept", slog.Int("removed", removed))
	}

	// 6. Snapshot and feed clients
	b.API = binance.NewSnapshotClient(
		cfg.API.Binance.RestURL,
		cfg.API.CoinGecko.RestURL,
		cfg.API.Binance.QuoteAsset,
		b.Cache,
	)
	b.Feed = binance.NewFeedClient(binance.FeedConfig{
		URL:         cfg.API.Binance.WSURL,
		QuoteAsset:  cfg.API.Binance.QuoteAsset,
		BaseDelay:   time.Duration(cfg.Feed.BaseDelayMS) * time.Millisecond,
		MaxAttempts: cfg.Feed.MaxAttempts,
	})

	// 7. Market coordinator
	b.Market = service.NewMarketService(b.Feed, b.API, store, service.Options{
		QuoteAsset:      cfg.API.Binance.QuoteAsset,
		TickerLimit:     cfg.API.Binance.TickerLimit,
		RefreshInterval: time.Duration(cfg.Refresh.MarketIntervalSec) * time.Second,
		GlobalInterval:  time.Duration(cfg.Refresh.GlobalIntervalSec) * time.Second,
	})
	slog.Info("✅ Market service ready")

	return nil
}
