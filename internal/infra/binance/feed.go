package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Habbi2/Crypto-Dashboard/internal/domain"
	"github.com/Habbi2/Crypto-Dashboard/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ConnState is the feed connection state.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Conn is the minimal transport surface the feed client needs. Satisfied by
// *websocket.Conn; tests inject fakes.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens a transport connection.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// FeedConfig configures a FeedClient. Zero values fall back to defaults.
type FeedConfig struct {
	URL         string
	QuoteAsset  string
	BaseDelay   time.Duration
	MaxAttempts int
	Dial        DialFunc
}

// FeedClient manages the single streaming connection: the subscription set,
// reconnection with linear backoff, and parsing of inbound ticker frames.
// Subscribe requests update the desired subscription set; every successful
// connect reconciles the transport against it, since subscriptions do not
// survive a reconnect.
type FeedClient struct {
	url         string
	quote       string
	baseDelay   time.Duration
	maxAttempts int
	dial        DialFunc

	mu         sync.Mutex
	writeMu    sync.Mutex
	conn       Conn
	state      ConnState
	desired    map[string]struct{}
	attempts   int
	retryTimer *time.Timer
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup

	nextID  atomic.Int64
	updates chan domain.PriceUpdate
	status  chan bool
	fatal   chan error
}

// NewFeedClient creates a feed client. Connect must be called (directly or
// implicitly via Subscribe) before any data flows.
func NewFeedClient(cfg FeedConfig) *FeedClient {
	if cfg.URL == "" {
		cfg.URL = defaultWSURL
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Dial == nil {
		cfg.Dial = gorillaDial
	}

	return &FeedClient{
		url:         cfg.URL,
		quote:       strings.ToUpper(cfg.QuoteAsset),
		baseDelay:   cfg.BaseDelay,
		maxAttempts: cfg.MaxAttempts,
		dial:        cfg.Dial,
		desired:     make(map[string]struct{}),
		updates:     make(chan domain.PriceUpdate, 256),
		status:      make(chan bool, 8),
		fatal:       make(chan error, 1),
	}
}

// Updates carries parsed ticker updates.
func (c *FeedClient) Updates() <-chan domain.PriceUpdate { return c.updates }

// Status flips on every connected/disconnected transition.
func (c *FeedClient) Status() <-chan bool { return c.status }

// Fatal reports a permanent feed failure after the retry cap is hit.
func (c *FeedClient) Fatal() <-chan error { return c.fatal }

// State returns the current connection state.
func (c *FeedClient) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected reports whether the transport is up.
func (c *FeedClient) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect opens the transport. No-op unless Disconnected. Resets the retry
// counter, and on success re-issues a subscribe for the full desired set.
func (c *FeedClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.attempts = 0
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	c.mu.Unlock()

	go c.establish()
	return nil
}

// Disconnect is a deliberate close: it cancels any pending reconnect, clears
// the subscription set, and never triggers auto-reconnect.
func (c *FeedClient) Disconnect() {
	c.mu.Lock()
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateDisconnected
	c.desired = make(map[string]struct{})
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	if wasConnected {
		c.notifyStatus(false)
	}
	c.wg.Wait()
	slog.Info("feed disconnected")
}

// Subscribe adds symbols to the desired subscription set. If connected the
// subscribe frame goes out immediately; while Disconnected an implicit
// Connect is triggered and the set is flushed once the connection is up.
func (c *FeedClient) Subscribe(symbols []string) error {
	added := c.normalize(symbols)
	if len(added) == 0 {
		return nil
	}

	c.mu.Lock()
	for _, s := range added {
		c.desired[s] = struct{}{}
	}
	state := c.state
	c.mu.Unlock()

	switch state {
	case StateConnected:
		return c.sendControl("SUBSCRIBE", added)
	case StateDisconnected:
		ctx := context.Background()
		return c.Connect(ctx)
	default:
		// Connecting/Reconnecting: desired set is flushed on connect
		return nil
	}
}

// Unsubscribe removes symbols from the desired set and, if connected, sends
// the unsubscribe frame.
func (c *FeedClient) Unsubscribe(symbols []string) error {
	requested := c.normalize(symbols)

	c.mu.Lock()
	var removed []string
	for _, s := range requested {
		if _, ok := c.desired[s]; ok {
			delete(c.desired, s)
			removed = append(removed, s)
		}
	}
	state := c.state
	c.mu.Unlock()

	if state == StateConnected && len(removed) > 0 {
		return c.sendControl("UNSUBSCRIBE", removed)
	}
	return nil
}

// Subscriptions returns the desired subscription set, sorted.
func (c *FeedClient) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.desired))
	for s := range c.desired {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// normalize upper-cases, strips the quote suffix, and de-duplicates while
// preserving first-seen order.
func (c *FeedClient) normalize(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		sym = strings.TrimSuffix(sym, c.quote)
		if sym == "" {
			continue
		}
		if _, ok := seen[sym]; ok {
			continue
		}
		seen[sym] = struct{}{}
		out = append(out, sym)
	}
	return out
}

// establish dials the transport and, on success, reconciles the desired
// subscription set before entering the read loop.
func (c *FeedClient) establish() {
	defer c.wg.Done()

	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.url)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Warn("feed dial failed", slog.Any("error", err))
		c.handleFailure(err)
		return
	}

	c.mu.Lock()
	if c.state == StateDisconnected {
		// Disconnect raced the dial
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = StateConnected
	c.attempts = 0
	pending := make([]string, 0, len(c.desired))
	for s := range c.desired {
		pending = append(pending, s)
	}
	sort.Strings(pending)
	c.mu.Unlock()

	slog.Info("feed connected", slog.Int("subscriptions", len(pending)))
	c.notifyStatus(true)

	if len(pending) > 0 {
		if err := c.sendControl("SUBSCRIBE", pending); err != nil {
			slog.Warn("subscription flush failed", slog.Any("error", err))
		}
	}

	c.readLoop(conn)
}

// readLoop reads frames until the connection drops.
func (c *FeedClient) readLoop(conn Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(err)
			return
		}
		c.handleMessage(msg)
	}
}

// handleClose runs after an unexpected read error. Explicit disconnects are
// recognized by the state already being Disconnected.
func (c *FeedClient) handleClose(err error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateReconnecting
	c.mu.Unlock()

	slog.Warn("feed connection lost", slog.Any("error", err))
	c.notifyStatus(false)
	c.handleFailure(err)
}

// handleFailure counts one failed attempt and either schedules the next
// retry (linear backoff) or gives up and reports a fatal feed error.
func (c *FeedClient) handleFailure(cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.attempts++
	if c.attempts > c.maxAttempts {
		c.state = StateDisconnected
		c.mu.Unlock()

		slog.Error("feed retries exhausted", slog.Int("attempts", c.maxAttempts), slog.Any("error", cause))
		select {
		case c.fatal <- fmt.Errorf("%w: %v", domain.ErrFeedExhausted, cause):
		default:
		}
		return
	}

	c.state = StateReconnecting
	attempt := c.attempts
	delay := c.baseDelay * time.Duration(attempt)
	c.retryTimer = time.AfterFunc(delay, c.retry)
	c.mu.Unlock()

	infra.FeedReconnectsTotal.Inc()
	slog.Info("feed reconnect scheduled",
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)
}

// retry fires from the reconnect timer.
func (c *FeedClient) retry() {
	c.mu.Lock()
	if c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnecting
	c.wg.Add(1)
	c.mu.Unlock()

	go c.establish()
}

// sendControl sends one SUBSCRIBE/UNSUBSCRIBE frame for the given symbols.
func (c *FeedClient) sendControl(method string, symbols []string) error {
	params := make([]string, 0, len(symbols))
	for _, s := range symbols {
		params = append(params, strings.ToLower(s+c.quote)+"@ticker")
	}

	req := subscribeRequest{
		Method: method,
		Params: params,
		ID:     c.nextID.Add(1),
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return c.threadSafeWrite(websocket.TextMessage, b)
}

// threadSafeWrite serializes writes to the websocket connection.
func (c *FeedClient) threadSafeWrite(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	return conn.WriteMessage(messageType, data)
}

// handleMessage parses one inbound frame. Malformed frames are logged and
// dropped; they never crash the client.
func (c *FeedClient) handleMessage(msg []byte) {
	infra.FeedMessagesTotal.Inc()

	var ev tickerEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		infra.FeedParseErrorsTotal.Inc()
		slog.Debug("dropping malformed feed frame", slog.Any("error", err))
		return
	}
	if ev.EventType != "24hrTicker" {
		return
	}

	price, err1 := decimal.NewFromString(ev.LastPrice)
	change, err2 := decimal.NewFromString(ev.ChangePercent)
	volume, err3 := decimal.NewFromString(ev.Volume)
	if err1 != nil || err2 != nil || err3 != nil {
		infra.FeedParseErrorsTotal.Inc()
		slog.Debug("dropping ticker frame with bad numerics", slog.String("symbol", ev.Symbol))
		return
	}

	update := domain.PriceUpdate{
		Symbol:        strings.TrimSuffix(strings.ToUpper(ev.Symbol), c.quote),
		Price:         price,
		ChangePercent: change,
		Volume:        volume,
		Timestamp:     time.UnixMilli(ev.EventTime),
	}

	select {
	case c.updates <- update:
	default:
		slog.Warn("feed update channel full, dropping update", slog.String("symbol", update.Symbol))
	}
}

// notifyStatus reports a connectivity flip to observers that only care
// about the boolean, decoupled from raw state detail.
func (c *FeedClient) notifyStatus(connected bool) {
	if connected {
		infra.FeedConnected.Set(1)
	} else {
		infra.FeedConnected.Set(0)
	}
	select {
	case c.status <- connected:
	default:
	}
}
