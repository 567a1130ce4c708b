package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	outboxCapacity = 32
)

// wsConn is the subset of *gorilla/websocket.Conn the hub depends on, kept
// as an interface so tests can exercise Client/Hub without a real socket.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Client wraps one websocket connection plus the subscriptions it owns.
// Outbound writes always happen on writePump's goroutine — the only
// goroutine allowed to call conn.WriteMessage, per gorilla/websocket's
// single-writer requirement.
type Client struct {
	ID     string
	hub    *Hub
	conn   wsConn
	outbox chan []byte

	mu     sync.Mutex
	slugs  map[string]bool
	tokens map[string]bool
	closed bool
}

func newClient(hub *Hub, conn wsConn) *Client {
	return &Client{
		ID:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		outbox: make(chan []byte, outboxCapacity),
		slugs:  make(map[string]bool),
		tokens: make(map[string]bool),
	}
}

// send marshals payload and enqueues it for delivery. It never blocks: a
// client that can't keep up has its message dropped rather than stalling
// the broadcast for everyone else.
func (c *Client) send(payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("marshal outbound message: %v", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.outbox <- data:
		return true
	default:
		return false
	}
}

// Send enqueues a reply payload for this specific client, outside the
// slug/token broadcast fan-out.
func (c *Client) Send(payload interface{}) bool {
	return c.send(payload)
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbox)
}

// writePump drains the outbox to the socket and keeps the connection alive
// with periodic pings, until the outbox is closed by Hub.Disconnect.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(closeMessageType, nil)
				return
			}
			if err := c.conn.WriteMessage(textMessageType, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(pingMessageType, nil); err != nil {
				return
			}
		}
	}
}

// ReadLoop pumps incoming frames to handleFn until the connection errors or
// closes; the caller (internal/api's /ws handler) supplies the action
// dispatch so this package stays free of HTTP/transport-routing concerns.
func (c *Client) ReadLoop(handleFn func(raw []byte)) {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		handleFn(raw)
	}
}

// These mirror gorilla/websocket's message-type constants without importing
// the package here, so this file's wsConn abstraction has no hard
// dependency on gorilla for unit testing.
const (
	textMessageType  = 1
	closeMessageType = 8
	pingMessageType  = 9
)
