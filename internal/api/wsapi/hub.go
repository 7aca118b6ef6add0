// Package wsapi is the Push Surface (spec §4.7/§6): a WebSocket endpoint
// that streams order-book updates to subscribers as the Registry applies
// them. The client-registry-broadcast shape is grounded on
// bally65-singularity's internal/telemetry/hub.go (gorilla/websocket
// Upgrader plus a client set guarded by a mutex); the per-connection
// outbound queue and drop-on-full backpressure policy are this package's
// own addition to satisfy spec §5's "ingestion never blocks on a slow
// subscriber" requirement, which the teacher's unbounded broadcast channel
// does not provide.
package wsapi

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stratolabs/obmirror/internal/domain"
	"github.com/stratolabs/obmirror/internal/registry"
)

var logger = log.New(os.Stdout, "[wsapi] ", log.LstdFlags)

const (
	outboundBufferSize = 64
	writeWait          = 5 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// inboundMessage is the shape of frames a client may send.
type inboundMessage struct {
	Type   string        `json:"type"`
	Symbol domain.Symbol `json:"symbol"`
}

// outboundMessage is the shape of every frame the Hub writes to a client
// (spec §6): every frame carries a top-level millisecond-epoch timestamp,
// and orderbook_update carries its symbol at the top level rather than
// nested inside data.
type outboundMessage struct {
	Type      string        `json:"type"`
	Symbol    domain.Symbol `json:"symbol,omitempty"`
	Data      interface{}   `json:"data,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// welcomePayload is sent once, right after upgrade.
type welcomePayload struct {
	Message string   `json:"message"`
	Symbols []string `json:"symbols"`
}

// Hub is the Push Surface: it upgrades HTTP connections to WebSocket,
// registers each connection as a registry.Subscriber, and fans out
// broadcasts from the Registry to every live connection.
type Hub struct {
	reg *registry.Registry
}

// NewHub builds a Push Surface bound to reg.
func NewHub(reg *registry.Registry) *Hub {
	return &Hub{reg: reg}
}

// ServeHTTP upgrades the request to a WebSocket connection and blocks
// for the connection's lifetime.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Printf("upgrade error: %v", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		out:  make(chan outboundMessage, outboundBufferSize),
	}

	h.reg.Subscribe(c)
	defer h.reg.Unsubscribe(c)

	go c.writeLoop()
	c.sendWelcome()
	c.readLoop()
}

// client adapts one WebSocket connection to registry.Subscriber.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	out    chan outboundMessage
	mu     sync.Mutex
	closed bool
}

// Send implements registry.Subscriber. It never blocks: if the client's
// outbound buffer is full, the update is dropped for that client rather
// than stalling diff ingestion for everyone else.
func (c *client) Send(symbol domain.Symbol, snapshot domain.Snapshot) error {
	msg := outboundMessage{
		Type:      "orderbook_update",
		Symbol:    symbol,
		Data:      snapshot,
		Timestamp: time.Now().UnixMilli(),
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return dropError("connection closed, update dropped")
	}
	select {
	case c.out <- msg:
		return nil
	default:
		return errDropped
	}
}

func (c *client) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *client) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.out)
	}
}

func (c *client) sendWelcome() {
	symbols := c.hub.reg.Symbols()
	names := make([]string, 0, len(symbols))
	for _, s := range symbols {
		names = append(names, s.String())
	}
	select {
	case c.out <- outboundMessage{
		Type: "welcome",
		Data: welcomePayload{
			Message: "connected to orderbook mirror",
			Symbols: names,
		},
		Timestamp: time.Now().UnixMilli(),
	}:
	default:
	}

	select {
	case c.out <- outboundMessage{
		Type:      "orderbooks_snapshot",
		Data:      c.hub.reg.AllSnapshots(0),
		Timestamp: time.Now().UnixMilli(),
	}:
	default:
	}
}

// writeLoop is the only goroutine allowed to write to conn, per
// gorilla/websocket's single-writer requirement. It exits when out is
// closed or a write fails.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop handles inbound client frames until the connection dies, then
// marks the client closed so the Registry stops trying to send to it.
func (c *client) readLoop() {
	defer c.markClosed()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.onMessage(raw)
	}
}

func (c *client) onMessage(raw []byte) {
	var in inboundMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		return
	}

	switch in.Type {
	case "ping":
		select {
		case c.out <- outboundMessage{Type: "pong", Timestamp: time.Now().UnixMilli()}:
		default:
		}

	case "subscribe":
		symbol := in.Symbol.Normalize()
		book, found := c.hub.reg.Book(symbol)
		if !found {
			return
		}
		select {
		case c.out <- outboundMessage{
			Type:      "orderbook_update",
			Symbol:    symbol,
			Data:      book.Snapshot(0),
			Timestamp: time.Now().UnixMilli(),
		}:
		default:
		}
	}
}

type dropError string

func (e dropError) Error() string { return string(e) }

const errDropped = dropError("outbound buffer full, update dropped")
