package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"

	"github.com/gammazero/deque"
	"github.com/shopspring/decimal"
)

const (
	favoritesPrefKey = "cryptoFavorites"
	themePrefKey     = "theme"

	maxRecentAlerts = 50
)

// PrefStore persists user preferences outside the cache namespace.
type PrefStore interface {
	SavePref(key, value string) error
	LoadPref(key string) (string, error)
}

// Options tunes the coordinator. Zero values fall back to defaults.
type Options struct {
	QuoteAsset      string
	TickerLimit     int
	RefreshInterval time.Duration
	GlobalInterval  time.Duration
	InitialSymbols  []string
}

// MarketService owns the authoritative per-symbol market view. It merges
// snapshot results and stream updates, drives the feed subscription set
// from the tracked set, and is the entire surface the presentation layer
// calls. Nothing else mutates a SymbolMarketView.
type MarketService struct {
	feed  domain.FeedClient
	api   domain.SnapshotAPI
	prefs PrefStore

	quote           string
	tickerLimit     int
	refreshInterval time.Duration
	globalInterval  time.Duration

	mu          sync.RWMutex
	views       map[string]*domain.SymbolMarketView
	tracked     map[string]struct{}
	active      string
	timeframe   string
	series      *domain.ChartSeries
	lastPrice   map[string]decimal.Decimal
	favorites   map[string]struct{}
	globalStats *domain.GlobalStats
	connected   bool
	feedEnabled bool
	lastFeedErr error

	alertMu      sync.Mutex
	recentAlerts deque.Deque[domain.PriceAlert]
	alertCh      chan domain.PriceAlert

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMarketService creates the coordinator. At least one symbol is always
// tracked; with no initial symbols, BTC is.
func NewMarketService(feed domain.FeedClient, api domain.SnapshotAPI, prefs PrefStore, opts Options) *MarketService {
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if opts.TickerLimit <= 0 {
		opts.TickerLimit = 50
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Minute
	}
	if opts.GlobalInterval <= 0 {
		opts.GlobalInterval = 5 * time.Minute
	}
	if len(opts.InitialSymbols) == 0 {
		opts.InitialSymbols = []string{"BTC"}
	}

	s := &MarketService{
		feed:            feed,
		api:             api,
		prefs:           prefs,
		quote:           strings.ToUpper(opts.QuoteAsset),
		tickerLimit:     opts.TickerLimit,
		refreshInterval: opts.RefreshInterval,
		globalInterval:  opts.GlobalInterval,
		views:           make(map[string]*domain.SymbolMarketView),
		tracked:         make(map[string]struct{}),
		lastPrice:       make(map[string]decimal.Decimal),
		favorites:       make(map[string]struct{}),
		timeframe:       domain.Timeframe7D,
		feedEnabled:     true,
		alertCh:         make(chan domain.PriceAlert, 64),
	}

	for _, sym := range opts.InitialSymbols {
		sym = strings.ToUpper(sym)
		s.tracked[sym] = struct{}{}
		s.views[sym] = &domain.SymbolMarketView{Symbol: sym}
	}
	s.active = s.trackedSortedLocked()[0]

	s.loadFavorites()
	return s
}

// Start launches the background loop: periodic snapshot refresh, global
// stats polling, and consumption of feed events. Its lifecycle is explicit
// and independent of any rendering concern.
func (s *MarketService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	ctx = s.runCtx
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop halts the background loop. Idempotent.
func (s *MarketService) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *MarketService) run(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("market loop panic recovered", slog.Any("panic", r))
		}
	}()

	// Baseline before the first tick
	if err := s.RefreshMarketData(ctx); err != nil {
		slog.Warn("initial market refresh failed", slog.Any("error", err))
	}
	s.refreshGlobalStats(ctx)
	s.loadSeries(ctx)

	marketTicker := time.NewTicker(s.refreshInterval)
	defer marketTicker.Stop()
	globalTicker := time.NewTicker(s.globalInterval)
	defer globalTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("market loop stopped")
			return
		case <-marketTicker.C:
			if err := s.RefreshMarketData(ctx); err != nil {
				slog.Warn("market refresh failed", slog.Any("error", err))
			}
		case <-globalTicker.C:
			s.refreshGlobalStats(ctx)
		case u := <-s.feed.Updates():
			s.ApplyStreamUpdate(u)
		case connected := <-s.feed.Status():
			s.setConnected(connected)
		case err := <-s.feed.Fatal():
			s.mu.Lock()
			s.lastFeedErr = err
			s.feedEnabled = false
			s.mu.Unlock()
			slog.Error("feed failed permanently", slog.Any("error", err))
		}
	}
}

// ======================================================================================
// Tracking
// ======================================================================================

// TrackSymbol adds a symbol to the tracked set and subscribes its stream.
func (s *MarketService) TrackSymbol(symbol string) error {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return domain.NewValidationError("symbol", "empty symbol")
	}

	s.mu.Lock()
	if _, ok := s.tracked[sym]; ok {
		s.mu.Unlock()
		return nil
	}
	s.tracked[sym] = struct{}{}
	s.views[sym] = &domain.SymbolMarketView{Symbol: sym}
	feedEnabled := s.feedEnabled
	s.mu.Unlock()

	if feedEnabled {
		if err := s.feed.Subscribe([]string{sym}); err != nil {
			slog.Warn("subscribe failed", slog.String("symbol", sym), slog.Any("error", err))
		}
	}
	return nil
}

// UntrackSymbol removes a symbol. Rejected when it would empty the tracked
// set: at least one symbol stays tracked at all times.
func (s *MarketService) UntrackSymbol(symbol string) error {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	if _, ok := s.tracked[sym]; !ok {
		s.mu.Unlock()
		return domain.NewValidationError("symbol", sym+" is not tracked")
	}
	if len(s.tracked) == 1 {
		s.mu.Unlock()
		return domain.NewValidationError("symbol", "cannot untrack the last tracked symbol")
	}

	delete(s.tracked, sym)
	delete(s.views, sym)
	delete(s.lastPrice, sym)

	var reload bool
	if s.active == sym {
		s.active = s.trackedSortedLocked()[0]
		s.series = nil
		reload = true
	}
	ctx := s.runCtx
	s.mu.Unlock()

	if err := s.feed.Unsubscribe([]string{sym}); err != nil {
		slog.Warn("unsubscribe failed", slog.String("symbol", sym), slog.Any("error", err))
	}
	if reload && ctx != nil {
		go s.loadSeries(ctx)
	}
	return nil
}

// SetActiveSymbol selects which tracked symbol's series is shown.
func (s *MarketService) SetActiveSymbol(symbol string) error {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	if _, ok := s.tracked[sym]; !ok {
		s.mu.Unlock()
		return domain.NewValidationError("symbol", sym+" is not tracked")
	}
	if s.active == sym {
		s.mu.Unlock()
		return nil
	}
	s.active = sym
	s.series = nil
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx != nil {
		go s.loadSeries(ctx)
	}
	return nil
}

// SetTimeframe switches the chart timeframe and refetches the series.
func (s *MarketService) SetTimeframe(timeframe string) error {
	if !domain.IsValidTimeframe(timeframe) {
		return domain.NewValidationError("timeframe", "unknown timeframe: "+timeframe)
	}

	s.mu.Lock()
	if s.timeframe == timeframe {
		s.mu.Unlock()
		return nil
	}
	s.timeframe = timeframe
	s.series = nil
	ctx := s.runCtx
	s.mu.Unlock()

	if ctx != nil {
		go s.loadSeries(ctx)
	}
	return nil
}

// ======================================================================================
// Data merging
// ======================================================================================

// RefreshMarketData pulls a ticker snapshot and full-replaces the view of
// every tracked symbol present in it.
func (s *MarketService) RefreshMarketData(ctx context.Context) error {
	tickers, err := s.api.FetchTicker(ctx, s.quote, s.tickerLimit)
	if err != nil {
		return err
	}

	bySymbol := make(map[string]domain.TickerEntry, len(tickers))
	for _, t := range tickers {
		bySymbol[t.Symbol] = t
	}

	now := time.Now()
	var alerts []domain.PriceAlert

	s.mu.Lock()
	for sym := range s.tracked {
		entry, ok := bySymbol[sym]
		if !ok {
			continue
		}

		s.views[sym] = &domain.SymbolMarketView{
			Symbol:           sym,
			Price:            entry.Price,
			ChangePercent24h: entry.ChangePercent24h,
			Volume24h:        entry.Volume24h,
			LastUpdateSource: domain.SourceSnapshot,
			LastUpdateTime:   now,
		}

		if alert, ok := domain.SignificantChange(sym, s.lastPrice[sym], entry.Price, now); ok {
			alerts = append(alerts, alert)
		}
		s.lastPrice[sym] = entry.Price
	}
	s.mu.Unlock()

	s.emitAlerts(alerts)
	return nil
}

// ApplyStreamUpdate merges one incremental update into the tracked view.
// Updates for untracked symbols are ignored; a stream update never creates
// a view. Tracking is the only entry point for that.
func (s *MarketService) ApplyStreamUpdate(u domain.PriceUpdate) {
	var alerts []domain.PriceAlert

	s.mu.Lock()
	if _, ok := s.tracked[u.Symbol]; !ok {
		s.mu.Unlock()
		return
	}

	view := s.views[u.Symbol]
	view.Price = u.Price
	view.ChangePercent24h = u.ChangePercent
	view.Volume24h = u.Volume
	view.LastUpdateSource = domain.SourceStream
	view.LastUpdateTime = u.Timestamp

	if alert, ok := domain.SignificantChange(u.Symbol, s.lastPrice[u.Symbol], u.Price, u.Timestamp); ok {
		alerts = append(alerts, alert)
	}
	s.lastPrice[u.Symbol] = u.Price
	s.mu.Unlock()

	s.emitAlerts(alerts)
}

// SetFeedMode toggles live streaming. Disabling is a deliberate disconnect;
// enabling reconnects and resubscribes the tracked set.
func (s *MarketService) SetFeedMode(enabled bool) error {
	s.mu.Lock()
	if s.feedEnabled == enabled {
		s.mu.Unlock()
		return nil
	}
	s.feedEnabled = enabled
	if enabled {
		s.lastFeedErr = nil
	}
	ctx := s.runCtx
	symbols := s.trackedSortedLocked()
	s.mu.Unlock()

	if !enabled {
		s.feed.Disconnect()
		return nil
	}

	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.feed.Connect(ctx); err != nil {
		return err
	}
	return s.feed.Subscribe(symbols)
}

// loadSeries fetches the series for the current selection. A response whose
// (symbol, timeframe) no longer matches the selection when it arrives is
// discarded, never applied.
func (s *MarketService) loadSeries(ctx context.Context) {
	s.mu.RLock()
	sym := s.active
	timeframe := s.timeframe
	s.mu.RUnlock()

	interval, limit := domain.IntervalForTimeframe(timeframe)
	series, err := s.api.FetchSeries(ctx, sym, interval, limit, 0)
	if err != nil {
		slog.Warn("series fetch failed", slog.String("symbol", sym), slog.Any("error", err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != sym || s.timeframe != timeframe {
		slog.Debug("discarding stale series response",
			slog.String("symbol", sym),
			slog.String("timeframe", timeframe),
		)
		return
	}
	s.series = series
}

func (s *MarketService) refreshGlobalStats(ctx context.Context) {
	stats, err := s.api.FetchGlobalStats(ctx)
	if err != nil {
		slog.Warn("global stats refresh failed", slog.Any("error", err))
		return
	}
	s.mu.Lock()
	s.globalStats = stats
	s.mu.Unlock()
}

func (s *MarketService) setConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *MarketService) emitAlerts(alerts []domain.PriceAlert) {
	if len(alerts) == 0 {
		return
	}

	s.alertMu.Lock()
	for _, a := range alerts {
		s.recentAlerts.PushBack(a)
		for s.recentAlerts.Len() > maxRecentAlerts {
			s.recentAlerts.PopFront()
		}
	}
	s.alertMu.Unlock()

	for _, a := range alerts {
		slog.Info("significant price change",
			slog.String("symbol", a.Symbol),
			slog.String("direction", a.Direction),
			slog.String("magnitude", a.Magnitude.StringFixed(2)),
		)
		select {
		case s.alertCh <- a:
		default:
		}
	}
}

// ======================================================================================
// Favorites & theme
// ======================================================================================

func (s *MarketService) loadFavorites() {
	if s.prefs == nil {
		return
	}
	raw, err := s.prefs.LoadPref(favoritesPrefKey)
	if err != nil || raw == "" {
		return
	}
	var favs []string
	if err := json.Unmarshal([]byte(raw), &favs); err != nil {
		slog.Warn("unreadable favorites preference", slog.Any("error", err))
		return
	}
	for _, f := range favs {
		s.favorites[strings.ToUpper(f)] = struct{}{}
	}
}

// ToggleFavorite flips the favorite flag for a symbol and persists the list.
func (s *MarketService) ToggleFavorite(symbol string) (bool, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))

	s.mu.Lock()
	_, isFav := s.favorites[sym]
	if isFav {
		delete(s.favorites, sym)
	} else {
		s.favorites[sym] = struct{}{}
	}
	favs := make([]string, 0, len(s.favorites))
	for f := range s.favorites {
		favs = append(favs, f)
	}
	sort.Strings(favs)
	s.mu.Unlock()

	if s.prefs != nil {
		raw, _ := json.Marshal(favs)
		if err := s.prefs.SavePref(favoritesPrefKey, string(raw)); err != nil {
			return !isFav, err
		}
	}
	return !isFav, nil
}

// IsFavorite reports whether the symbol is marked as a favorite.
func (s *MarketService) IsFavorite(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.favorites[strings.ToUpper(symbol)]
	return ok
}

// SetTheme persists the UI theme preference.
func (s *MarketService) SetTheme(theme string) error {
	if s.prefs == nil {
		return nil
	}
	return s.prefs.SavePref(themePrefKey, theme)
}

// Theme returns the persisted UI theme preference.
func (s *MarketService) Theme() (string, error) {
	if s.prefs == nil {
		return "", nil
	}
	return s.prefs.LoadPref(themePrefKey)
}

// ======================================================================================
// Read surface
// ======================================================================================

// Views returns a copy of every tracked symbol's merged view, sorted by symbol.
func (s *MarketService) Views() []domain.SymbolMarketView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.SymbolMarketView, 0, len(s.views))
	for _, v := range s.views {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// View returns the merged view for one symbol.
func (s *MarketService) View(symbol string) (domain.SymbolMarketView, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[strings.ToUpper(symbol)]
	if !ok {
		return domain.SymbolMarketView{}, false
	}
	return *v, true
}

// TrackedSymbols returns the tracked set, sorted.
func (s *MarketService) TrackedSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trackedSortedLocked()
}

func (s *MarketService) trackedSortedLocked() []string {
	out := make([]string, 0, len(s.tracked))
	for sym := range s.tracked {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// ActiveSymbol returns the symbol whose series is currently shown.
func (s *MarketService) ActiveSymbol() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Timeframe returns the current chart timeframe token.
func (s *MarketService) Timeframe() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeframe
}

// ActiveSeries returns the chart series for the current selection, or nil
// while it is loading.
func (s *MarketService) ActiveSeries() *domain.ChartSeries {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.series
}

// GlobalStats returns the latest aggregate market totals, or nil before the
// first fetch.
func (s *MarketService) GlobalStats() *domain.GlobalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.globalStats
}

// IsConnected reports feed connectivity.
func (s *MarketService) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// FeedEnabled reports whether live streaming is on.
func (s *MarketService) FeedEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.feedEnabled
}

// LastFeedError returns the most recent permanent feed failure, if any.
func (s *MarketService) LastFeedError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastFeedErr
}

// Alerts is the stream of significant-change alerts.
func (s *MarketService) Alerts() <-chan domain.PriceAlert {
	return s.alertCh
}

// RecentAlerts returns up to the last 50 alerts, oldest first.
func (s *MarketService) RecentAlerts() []domain.PriceAlert {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	out := make([]domain.PriceAlert, 0, s.recentAlerts.Len())
	for i := 0; i < s.recentAlerts.Len(); i++ {
		out = append(out, s.recentAlerts.At(i))
	}
	return out
}
