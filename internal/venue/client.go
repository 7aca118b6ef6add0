package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/gorilla/websocket"
	"github.com/stratolabs/obmirror/internal/config"
	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/metrics"
	"github.com/stratolabs/obmirror/internal/registry"
	"github.com/stratolabs/obmirror/internal/validator"
)

var logger = log.New(os.Stdout, "[venue] ", log.LstdFlags)

// State is the Venue Client's connection lifecycle (spec §4.5):
// Disconnected -> Connecting -> Open -> Subscribing -> Streaming -> {Disconnected}.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateSubscribing
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

const (
	subscribeHandshakeDelay = 2000 * time.Millisecond
	symbolInitPacingDelay   = 100 * time.Millisecond
	reconnectBaseDelay      = 1000 * time.Millisecond
	defaultMaxReconnects    = 10
	pingInterval            = 3 * time.Minute
	readIdleTimeout         = 9 * time.Minute
)

// Client is the Venue Client: it dials the upstream stream, performs the
// subscription handshake, and feeds validated diffs to the Registry.
//
// Grounded on the teacher's BinanceStreamClient for the connection and
// subscription bookkeeping. The reconnect state machine is hand-rolled over
// gorilla/websocket (itself grounded on the teacher's direct
// gorilla/websocket.Dialer use in sync-api.go) rather than wrapped in
// recws.RecConn, so the bounded attempt counter and backoff schedule spec
// §4.5/§7 require stay observable instead of hidden inside a library's
// internal auto-reconnect loop.
type Client struct {
	cfg      config.Config
	reg      *registry.Registry
	syncAPI  *SyncAPI
	maxTries int

	state       atomic.Int32
	reqID       atomic.Int64
	lastMsgUnix atomic.Int64

	connMu sync.Mutex
	conn   *websocket.Conn

	ackMu   sync.Mutex
	pending map[int64]string // request id -> topic, awaiting subscribe ack

	queueMu sync.Mutex
	queue   deque.Deque[domain.DiffUpdate]

	reconnects atomic.Int64
	done       chan struct{}
	closeOnce  sync.Once
}

func NewClient(cfg config.Config, reg *registry.Registry) *Client {
	return &Client{
		cfg:      cfg,
		reg:      reg,
		syncAPI:  NewSyncAPI(cfg.BinanceRESTURL),
		maxTries: defaultMaxReconnects,
		pending:  make(map[int64]string),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
}

// InitializeBooks ensures a book exists for every configured symbol before
// any connection is attempted, pacing each creation so a later burst of
// snapshot refetches doesn't thunder-herd the venue (spec §4.5).
func (c *Client) InitializeBooks() {
	for _, sym := range c.cfg.TradingPairs {
		c.reg.EnsureBook(domain.Symbol(sym))
		time.Sleep(symbolInitPacingDelay)
	}
	metrics.OpenBooksGauge.Set(float64(len(c.cfg.TradingPairs)))
}

// Run drives the connect -> subscribe -> stream -> reconnect loop until ctx
// is cancelled or the reconnect cap is exhausted.
func (c *Client) Run(ctx context.Context) {
	c.InitializeBooks()

	go c.queueDrainer(ctx)
	go c.pingLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connect(ctx); err != nil {
			logger.Printf("connect failed: %v", err)
			if !c.handleReconnect(ctx) {
				return
			}
			continue
		}

		c.reconnects.Store(0)
		metrics.VenueConnected.Set(1)

		time.Sleep(subscribeHandshakeDelay)
		c.setState(StateSubscribing)
		if err := c.subscribeAll(); err != nil {
			logger.Printf("subscribe failed: %v", err)
		} else {
			c.setState(StateStreaming)
		}

		c.readLoop(ctx) // blocks until the connection closes or errors

		metrics.VenueConnected.Set(0)
		c.setState(StateDisconnected)

		select {
		case <-ctx.Done():
			return
		default:
		}
		if !c.handleReconnect(ctx) {
			return
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 5 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.BinanceWSURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.BinanceWSURL, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.lastMsgUnix.Store(time.Now().Unix())
	c.setState(StateOpen)
	logger.Printf("connected to %s", c.cfg.BinanceWSURL)
	return nil
}

func (c *Client) subscribeAll() error {
	for _, sym := range c.cfg.TradingPairs {
		topic := fmt.Sprintf("%s@depth@100ms", domain.Symbol(sym).Normalize())
		id := c.reqID.Add(1)

		c.ackMu.Lock()
		c.pending[id] = topic
		c.ackMu.Unlock()

		req := subscribeRequest{Method: "SUBSCRIBE", Params: []string{topic}, ID: id}
		if err := c.writeJSON(req); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		logger.Printf("subscribed to %s", topic)
	}
	return nil
}

func (c *Client) writeJSON(v interface{}) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("no active connection")
	}
	return c.conn.WriteJSON(v)
}

// readLoop reads frames until the connection closes or errors, dispatching
// each to the right handler (spec §4.5 "on message").
func (c *Client) readLoop(ctx context.Context) {
	for {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read error, closing: %v", err)
			return
		}
		c.lastMsgUnix.Store(time.Now().Unix())
		c.onMessage(msg)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (c *Client) onMessage(raw []byte) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		logger.Printf("malformed frame, discarding: %v", err)
		return
	}

	if idRaw, ok := probe["id"]; ok {
		var ack ackWireMsg
		if err := json.Unmarshal(raw, &ack); err == nil && ack.ID != nil {
			c.ackMu.Lock()
			topic, known := c.pending[*ack.ID]
			delete(c.pending, *ack.ID)
			c.ackMu.Unlock()
			if known {
				logger.Printf("subscription ack id=%d topic=%s", *ack.ID, topic)
			}
			_ = idRaw
			return
		}
	}

	var kind struct {
		Event string `json:"e"`
	}
	_ = json.Unmarshal(raw, &kind)

	switch kind.Event {
	case "depthUpdate":
		c.onDepthUpdate(raw)
	case "":
		if _, hasErr := probe["error"]; hasErr {
			var em errorWireMsg
			if err := json.Unmarshal(raw, &em); err == nil && em.Error != nil {
				logger.Printf("venue error frame: code=%d msg=%s", em.Error.Code, em.Error.Msg)
			}
		}
	default:
		logger.Printf("debug: unhandled event kind=%q", kind.Event)
	}
}

func (c *Client) onDepthUpdate(raw []byte) {
	var msg depthUpdateWireMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		logger.Printf("malformed depthUpdate, discarding: %v", err)
		return
	}

	diff := domain.DiffUpdate{
		EventKind:     msg.Event,
		Symbol:        domain.Symbol(msg.Symbol).Normalize(),
		FirstUpdateID: msg.FirstUpdateID,
		FinalUpdateID: msg.FinalUpdateID,
		Bids:          msg.Bids,
		Asks:          msg.Asks,
	}
	if !validator.IsValidDiffUpdate(diff.EventKind, diff.Symbol, diff.Bids, diff.Asks) {
		logger.Printf("warn: invalid depthUpdate for symbol=%q, discarding", msg.Symbol)
		return
	}

	c.queueMu.Lock()
	c.queue.PushBack(diff)
	c.queueMu.Unlock()
}

// queueDrainer applies queued diffs to the registry off the read goroutine,
// grounded on the teacher's OrderbookMaintainer.queueReader/startMsgPicker
// deque-draining loop — it keeps ingestion's blocking point (network read)
// separate from the (fast, synchronous) apply step.
func (c *Client) queueDrainer(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		c.queueMu.Lock()
		if c.queue.Len() == 0 {
			c.queueMu.Unlock()
			time.Sleep(10 * time.Millisecond)
			continue
		}
		diff := c.queue.PopFront()
		c.queueMu.Unlock()

		c.reg.ApplyDiff(diff)
	}
}

// pingLoop sends WebSocket ping frames on an interval and forces a
// reconnect on read-idle timeout, per spec §9's liveness SHOULD — the
// source performs neither.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()
			if conn == nil {
				continue
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Printf("ping failed: %v", err)
			}

			last := time.Unix(c.lastMsgUnix.Load(), 0)
			if time.Since(last) > readIdleTimeout {
				logger.Printf("read-idle timeout exceeded, forcing reconnect")
				conn.Close()
			}
		}
	}
}

// handleReconnect waits base*2^(attempt-1) and returns true if the caller
// should retry connecting, false once the attempt cap is exhausted.
func (c *Client) handleReconnect(ctx context.Context) bool {
	attempt := c.reconnects.Add(1)
	if int(attempt) > c.maxTries {
		logger.Printf("reconnect attempts exhausted (%d), giving up", c.maxTries)
		return false
	}

	delay := reconnectBaseDelay * time.Duration(1<<uint(attempt-1))
	logger.Printf("reconnecting in %s (attempt %d/%d)", delay, attempt, c.maxTries)
	metrics.ReconnectAttempts.Inc()

	select {
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	case <-time.After(delay):
		return true
	}
}

// Close shuts the venue client down: stop the read/ping loops and close the
// upstream connection, cancelling any pending reconnect timer.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.connMu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.connMu.Unlock()
	})
}

// Bootstrap fetches a REST snapshot for symbol and applies it to the
// registry — used by BootstrapSnapshot mode (spec §9 Open Question), and
// exercised directly by callers who want the venue-docs-correct
// snapshot-then-align flow instead of accept-first-diff-unconditionally.
func (c *Client) Bootstrap(symbol domain.Symbol) error {
	snap, err := c.syncAPI.GetSnapshot(symbol, c.cfg.OrderbookDepth)
	if err != nil {
		return err
	}
	if !c.reg.ApplySnapshot(symbol, snap) {
		return fmt.Errorf("venue: snapshot for %s failed validation", symbol)
	}
	return nil
}
