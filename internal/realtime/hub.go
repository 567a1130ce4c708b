// Package realtime implements the Realtime Broadcaster (C8): subscription
// bookkeeping keyed by status-page slug and by probe-worker token, and the
// JSON envelope fan-out on pulse/status-transition events (§4.8).
package realtime

import (
	"sync"
	"time"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/db"
	"github.com/projecthelena/pulsewarden/internal/kinds"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/status"
)

var log = logging.New("realtime")

// Hub owns every connected client and the two subscription indexes: by
// status-page slug (public viewers) and by monitor token (probe workers).
type Hub struct {
	cacheMgr *cache.Manager

	mu       sync.RWMutex
	clients  map[*Client]bool
	bySlug   map[string]map[*Client]bool
	byToken  map[string]map[*Client]bool
}

func NewHub(cacheMgr *cache.Manager) *Hub {
	return &Hub{
		cacheMgr: cacheMgr,
		clients:  make(map[*Client]bool),
		bySlug:   make(map[string]map[*Client]bool),
		byToken:  make(map[string]map[*Client]bool),
	}
}

// Connect registers a new client and starts its write pump. The caller owns
// the read loop and must call Disconnect when the connection closes.
func (h *Hub) Connect(conn wsConn) *Client {
	c := newClient(h, conn)
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	log.Printf("client %s connected", c.ID)
	go c.writePump()
	return c
}

// Disconnect removes a client from every subscription index and closes its
// send channel.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for slug := range c.slugs {
		delete(h.bySlug[slug], c)
	}
	for token := range c.tokens {
		delete(h.byToken[token], c)
	}
	c.closeSend()
	log.Printf("client %s disconnected", c.ID)
}

// Subscribe attaches a client to a status page's slug. Password-protected
// pages require a matching password at subscribe time (§4.8).
func (h *Hub) Subscribe(c *Client, slug, password string) error {
	snap := h.cacheMgr.Current()
	page, ok := snap.StatusPageBySlug(slug)
	if !ok {
		return kinds.New(kinds.NotFound, "unknown status page "+slug)
	}
	if page.Password != "" && page.Password != password {
		return kinds.New(kinds.Unauthorized, "incorrect status page password")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bySlug[slug] == nil {
		h.bySlug[slug] = make(map[*Client]bool)
	}
	h.bySlug[slug][c] = true
	c.slugs[slug] = true
	return nil
}

// SubscribeWorker attaches a client to a monitor's push token, used by
// probe workers pushing pulses over the same connection they subscribe on.
func (h *Hub) SubscribeWorker(c *Client, token string) error {
	snap := h.cacheMgr.Current()
	m, ok := snap.MonitorByToken(token)
	if !ok {
		return kinds.New(kinds.Unauthorized, "unknown push token")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byToken[token] == nil {
		h.byToken[token] = make(map[*Client]bool)
	}
	h.byToken[token][c] = true
	c.tokens[token] = true
	_ = m // token validity is all SubscribeWorker needs from the monitor
	return nil
}

// Unsubscribe detaches a client from a slug or token subscription; it tries
// both indexes since the client only supplies one identifier.
func (h *Hub) Unsubscribe(c *Client, key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bySlug[key] != nil {
		delete(h.bySlug[key], c)
		delete(c.slugs, key)
	}
	if h.byToken[key] != nil {
		delete(h.byToken[key], c)
		delete(c.tokens, key)
	}
}

// Subscriptions lists every slug and token a client currently subscribes to.
func (h *Hub) Subscriptions(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	subs := make([]string, 0, len(c.slugs)+len(c.tokens))
	for slug := range c.slugs {
		subs = append(subs, slug)
	}
	for token := range c.tokens {
		subs = append(subs, token)
	}
	return subs
}

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

type pulseEnvelope struct {
	Action    string    `json:"action"`
	MonitorID string    `json:"monitorId"`
	Latency   *float64  `json:"latency,omitempty"`
	Custom1   *float64  `json:"custom1,omitempty"`
	Custom2   *float64  `json:"custom2,omitempty"`
	Custom3   *float64  `json:"custom3,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastPulse satisfies internal/pulsestore.Broadcaster: it publishes a
// pulse envelope to every subscriber of a status page containing the
// monitor (§4.8's reverse index, built by C1).
func (h *Hub) BroadcastPulse(monitorID string, pulse db.Pulse) {
	env := pulseEnvelope{
		Action:    "pulse",
		MonitorID: monitorID,
		Timestamp: pulse.Timestamp,
	}
	if pulse.Latency.Valid {
		env.Latency = &pulse.Latency.Float64
	}
	if pulse.Custom1.Valid {
		env.Custom1 = &pulse.Custom1.Float64
	}
	if pulse.Custom2.Valid {
		env.Custom2 = &pulse.Custom2.Float64
	}
	if pulse.Custom3.Valid {
		env.Custom3 = &pulse.Custom3.Float64
	}
	h.publishToSubscribersOf(monitorID, env)
}

type statusEnvelope struct {
	Action     string    `json:"action"`
	Type       string    `json:"type"`
	SourceType string    `json:"sourceType"`
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	GroupID    string    `json:"groupId,omitempty"`
	GroupName  string    `json:"groupName,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// BroadcastTransition satisfies internal/status.Broadcaster.
func (h *Hub) BroadcastTransition(event status.Transition) {
	env := statusEnvelope{
		Action:     "status",
		Type:       event.Type,
		SourceType: event.SourceType,
		ID:         event.ID,
		Name:       event.Name,
		Timestamp:  event.Timestamp,
	}
	if event.GroupInfo != nil {
		env.GroupID = event.GroupInfo.GroupID
		env.GroupName = event.GroupInfo.GroupName
	}
	h.publishToSubscribersOf(event.ID, env)
}

type reloadEnvelope struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
}

// BroadcastReload fans a reload notice out to every connected status-page
// subscriber, regardless of slug, since a reload can add or remove entries
// from any page (§4.1: "notifies live subscribers").
func (h *Hub) BroadcastReload(now time.Time) {
	env := reloadEnvelope{Action: "reload", Timestamp: now}
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Client]bool)
	for _, clients := range h.bySlug {
		for c := range clients {
			if seen[c] {
				continue
			}
			seen[c] = true
			if !c.send(env) {
				log.Printf("dropping reload notice for slow subscriber")
			}
		}
	}
}

// publishToSubscribersOf fans payload out to every client subscribed to any
// status page slug containing entityID.
func (h *Hub) publishToSubscribersOf(entityID string, payload interface{}) {
	snap := h.cacheMgr.Current()
	slugs := snap.StatusPagesContaining(entityID)
	if len(slugs) == 0 {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[*Client]bool)
	for _, slug := range slugs {
		for c := range h.bySlug[slug] {
			if seen[c] {
				continue
			}
			seen[c] = true
			if !c.send(payload) {
				log.Printf("dropping message for slow subscriber on slug %s", slug)
			}
		}
	}
}
