package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"

	"github.com/shopspring/decimal"
)

type fakeFeed struct {
	mu           sync.Mutex
	subscribed   [][]string
	unsubscribed [][]string
	connects     int
	disconnects  int
	updates      chan domain.PriceUpdate
	status       chan bool
	fatal        chan error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		updates: make(chan domain.PriceUpdate, 16),
		status:  make(chan bool, 4),
		fatal:   make(chan error, 1),
	}
}

func (f *fakeFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return nil
}

func (f *fakeFeed) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
}

func (f *fakeFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, symbols)
	return nil
}

func (f *fakeFeed) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, symbols)
	return nil
}

func (f *fakeFeed) IsConnected() bool                      { return false }
func (f *fakeFeed) Updates() <-chan domain.PriceUpdate     { return f.updates }
func (f *fakeFeed) Status() <-chan bool                    { return f.status }
func (f *fakeFeed) Fatal() <-chan error                    { return f.fatal }

type fakeAPI struct {
	mu          sync.Mutex
	tickers     []domain.TickerEntry
	seriesGate  chan struct{} // Non-nil: FetchSeries blocks until closed
	seriesCalls []string
}

func (f *fakeAPI) setTicker(symbol string, price float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := domain.TickerEntry{
		ID:               symbol + "USDT",
		Symbol:           symbol,
		Price:            decimal.NewFromFloat(price),
		ChangePercent24h: decimal.NewFromFloat(1.0),
		Volume24h:        decimal.NewFromInt(1000),
	}
	for i, t := range f.tickers {
		if t.Symbol == symbol {
			f.tickers[i] = entry
			return
		}
	}
	f.tickers = append(f.tickers, entry)
}

func (f *fakeAPI) ListSymbols(ctx context.Context) ([]domain.SymbolInfo, error) {
	return nil, nil
}

func (f *fakeAPI) FetchTicker(ctx context.Context, base string, limit int) ([]domain.TickerEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TickerEntry(nil), f.tickers...), nil
}

func (f *fakeAPI) FetchSeries(ctx context.Context, symbol, interval string, limit int, cursor int64) (*domain.ChartSeries, error) {
	f.mu.Lock()
	gate := f.seriesGate
	f.seriesCalls = append(f.seriesCalls, symbol)
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return &domain.ChartSeries{
		Symbol:   symbol,
		Interval: interval,
		Points:   []domain.SeriesPoint{{Timestamp: 1, Close: decimal.NewFromInt(1)}},
	}, nil
}

func (f *fakeAPI) FetchGlobalStats(ctx context.Context) (*domain.GlobalStats, error) {
	return &domain.GlobalStats{}, nil
}

func (f *fakeAPI) FetchPage(ctx context.Context, pageNumber, pageSize int, base string) (*domain.SymbolPage, error) {
	return &domain.SymbolPage{}, nil
}

type fakePrefs struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakePrefs() *fakePrefs { return &fakePrefs{data: make(map[string]string)} }

func (f *fakePrefs) SavePref(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return nil
}

func (f *fakePrefs) LoadPref(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.data[key], nil
}

func newTestService() (*MarketService, *fakeFeed, *fakeAPI) {
	feed := newFakeFeed()
	api := &fakeAPI{}
	svc := NewMarketService(feed, api, newFakePrefs(), Options{})
	return svc, feed, api
}

func TestUntrackLastSymbolRejected(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.UntrackSymbol("BTC")
	if err == nil {
		t.Fatal("untracking the sole tracked symbol must be rejected")
	}
	if !domain.IsValidation(err) {
		t.Errorf("expected a validation error, got %v", err)
	}

	tracked := svc.TrackedSymbols()
	if len(tracked) != 1 || tracked[0] != "BTC" {
		t.Errorf("tracked set must be unchanged, got %v", tracked)
	}
}

func TestTrackAndUntrack(t *testing.T) {
	svc, feed, _ := newTestService()

	if err := svc.TrackSymbol("eth"); err != nil {
		t.Fatalf("TrackSymbol failed: %v", err)
	}
	tracked := svc.TrackedSymbols()
	if len(tracked) != 2 || tracked[1] != "ETH" {
		t.Errorf("expected [BTC ETH], got %v", tracked)
	}
	if len(feed.subscribed) != 1 || feed.subscribed[0][0] != "ETH" {
		t.Errorf("tracking must subscribe the symbol, got %v", feed.subscribed)
	}

	// Tracking creates the view
	if _, ok := svc.View("ETH"); !ok {
		t.Error("tracking should create the symbol view")
	}

	if err := svc.UntrackSymbol("ETH"); err != nil {
		t.Fatalf("UntrackSymbol failed: %v", err)
	}
	if len(feed.unsubscribed) != 1 || feed.unsubscribed[0][0] != "ETH" {
		t.Errorf("untracking must unsubscribe the symbol, got %v", feed.unsubscribed)
	}
	if _, ok := svc.View("ETH"); ok {
		t.Error("untracking should destroy the symbol view")
	}
}

func TestUntrackActiveSymbolReassigns(t *testing.T) {
	svc, _, _ := newTestService()
	svc.TrackSymbol("ETH")

	if err := svc.SetActiveSymbol("ETH"); err != nil {
		t.Fatalf("SetActiveSymbol failed: %v", err)
	}
	if err := svc.UntrackSymbol("ETH"); err != nil {
		t.Fatalf("UntrackSymbol failed: %v", err)
	}
	if svc.ActiveSymbol() != "BTC" {
		t.Errorf("active symbol should fall back to a tracked one, got %s", svc.ActiveSymbol())
	}
}

func TestSetActiveSymbolMustBeTracked(t *testing.T) {
	svc, _, _ := newTestService()

	err := svc.SetActiveSymbol("DOGE")
	if err == nil || !domain.IsValidation(err) {
		t.Errorf("expected validation error for untracked symbol, got %v", err)
	}
}

func TestRefreshMarketDataFullReplace(t *testing.T) {
	svc, _, api := newTestService()
	api.setTicker("BTC", 50000)
	api.setTicker("DOGE", 0.1) // Not tracked: must not create a view

	if err := svc.RefreshMarketData(context.Background()); err != nil {
		t.Fatalf("RefreshMarketData failed: %v", err)
	}

	view, ok := svc.View("BTC")
	if !ok {
		t.Fatal("BTC view should exist")
	}
	if !view.Price.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("expected price 50000, got %v", view.Price)
	}
	if view.LastUpdateSource != domain.SourceSnapshot {
		t.Errorf("expected snapshot source, got %s", view.LastUpdateSource)
	}
	if _, ok := svc.View("DOGE"); ok {
		t.Error("refresh must not create views for untracked symbols")
	}
}

func TestSignificantChangeAlertOnRefresh(t *testing.T) {
	svc, _, api := newTestService()

	// Baseline observation: no alert
	api.setTicker("BTC", 100)
	svc.RefreshMarketData(context.Background())
	if len(svc.RecentAlerts()) != 0 {
		t.Fatal("baseline observation must not alert")
	}

	// +6% against the previous observed price: alert
	api.setTicker("BTC", 106)
	svc.RefreshMarketData(context.Background())

	alerts := svc.RecentAlerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Direction != domain.DirectionIncreased {
		t.Errorf("expected direction increased, got %s", alerts[0].Direction)
	}
	if !alerts[0].Magnitude.Equal(decimal.NewFromInt(6)) {
		t.Errorf("expected magnitude 6, got %v", alerts[0].Magnitude)
	}

	// The alert also arrives on the channel
	select {
	case a := <-svc.Alerts():
		if a.Symbol != "BTC" {
			t.Errorf("expected BTC alert, got %s", a.Symbol)
		}
	default:
		t.Error("alert should be available on the channel")
	}
}

func TestNoAlertBelowThreshold(t *testing.T) {
	svc, _, api := newTestService()

	api.setTicker("BTC", 100)
	svc.RefreshMarketData(context.Background())

	// +4% is below the 5% threshold
	api.setTicker("BTC", 104)
	svc.RefreshMarketData(context.Background())

	if len(svc.RecentAlerts()) != 0 {
		t.Error("4% move must not alert")
	}
}

func TestApplyStreamUpdate(t *testing.T) {
	svc, _, api := newTestService()
	api.setTicker("BTC", 50000)
	svc.RefreshMarketData(context.Background())

	svc.ApplyStreamUpdate(domain.PriceUpdate{
		Symbol:        "BTC",
		Price:         decimal.NewFromInt(51000),
		ChangePercent: decimal.NewFromFloat(2.0),
		Volume:        decimal.NewFromInt(999),
		Timestamp:     time.Now(),
	})

	view, _ := svc.View("BTC")
	if !view.Price.Equal(decimal.NewFromInt(51000)) {
		t.Errorf("expected price 51000, got %v", view.Price)
	}
	if view.LastUpdateSource != domain.SourceStream {
		t.Errorf("expected stream source, got %s", view.LastUpdateSource)
	}

	// Updates for untracked symbols are ignored and never create views
	svc.ApplyStreamUpdate(domain.PriceUpdate{
		Symbol: "DOGE",
		Price:  decimal.NewFromInt(1),
	})
	if _, ok := svc.View("DOGE"); ok {
		t.Error("stream update must not create a view")
	}
}

func TestSetFeedMode(t *testing.T) {
	svc, feed, _ := newTestService()
	svc.TrackSymbol("ETH")

	if err := svc.SetFeedMode(false); err != nil {
		t.Fatalf("SetFeedMode(false) failed: %v", err)
	}
	if feed.disconnects != 1 {
		t.Errorf("expected one disconnect, got %d", feed.disconnects)
	}

	if err := svc.SetFeedMode(true); err != nil {
		t.Fatalf("SetFeedMode(true) failed: %v", err)
	}
	if feed.connects != 1 {
		t.Errorf("expected one connect, got %d", feed.connects)
	}
	last := feed.subscribed[len(feed.subscribed)-1]
	if len(last) != 2 || last[0] != "BTC" || last[1] != "ETH" {
		t.Errorf("re-enable must resubscribe the tracked set, got %v", last)
	}
}

func TestStaleSeriesDiscarded(t *testing.T) {
	svc, _, api := newTestService()
	svc.TrackSymbol("ETH")

	gate := make(chan struct{})
	api.mu.Lock()
	api.seriesGate = gate
	api.mu.Unlock()

	// A BTC series fetch goes in flight
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.loadSeries(context.Background())
	}()

	// Wait for the fetch to be issued, then switch the active symbol
	deadline := time.After(time.Second)
	for {
		api.mu.Lock()
		calls := len(api.seriesCalls)
		api.mu.Unlock()
		if calls == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("series fetch was never issued")
		case <-time.After(time.Millisecond):
		}
	}

	if err := svc.SetActiveSymbol("ETH"); err != nil {
		t.Fatalf("SetActiveSymbol failed: %v", err)
	}

	// The late BTC response arrives and must be discarded
	api.mu.Lock()
	api.seriesGate = nil
	api.mu.Unlock()
	close(gate)
	wg.Wait()

	if series := svc.ActiveSeries(); series != nil && series.Symbol == "BTC" {
		t.Error("stale BTC series must be discarded after switching to ETH")
	}

	// The ETH series loads normally
	svc.loadSeries(context.Background())
	series := svc.ActiveSeries()
	if series == nil || series.Symbol != "ETH" {
		t.Errorf("expected ETH series, got %+v", series)
	}
}

func TestFavorites(t *testing.T) {
	prefs := newFakePrefs()
	svc := NewMarketService(newFakeFeed(), &fakeAPI{}, prefs, Options{})

	isFav, err := svc.ToggleFavorite("BTC")
	if err != nil || !isFav {
		t.Fatalf("expected BTC to become favorite, got %v, %v", isFav, err)
	}
	if prefs.data[favoritesPrefKey] != `["BTC"]` {
		t.Errorf("favorites should persist, got %q", prefs.data[favoritesPrefKey])
	}

	// A new service picks favorites up from the store
	svc2 := NewMarketService(newFakeFeed(), &fakeAPI{}, prefs, Options{})
	if !svc2.IsFavorite("BTC") {
		t.Error("favorites should survive a restart")
	}

	isFav, _ = svc2.ToggleFavorite("BTC")
	if isFav {
		t.Error("second toggle should clear the favorite")
	}
}
