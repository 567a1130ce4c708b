package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/projecthelena/pulsewarden/internal/cache"
	"github.com/projecthelena/pulsewarden/internal/logging"
	"github.com/projecthelena/pulsewarden/internal/pulsestore"
	"github.com/projecthelena/pulsewarden/internal/realtime"
)

var wsLog = logging.New("api.ws")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Status pages are embedded/linked from arbitrary origins (§4.8); the
	// subscription itself is what's access-controlled (password check),
	// not the handshake origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler drives the `/ws` endpoint (§6): one action per inbound
// JSON frame, dispatched to the Realtime Broadcaster and Pulse Store.
type WebSocketHandler struct {
	hub      *realtime.Hub
	pulses   *pulsestore.Service
	cacheMgr *cache.Manager
}

func NewWebSocketHandler(hub *realtime.Hub, pulses *pulsestore.Service, cacheMgr *cache.Manager) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, pulses: pulses, cacheMgr: cacheMgr}
}

type wsAction struct {
	Action   string   `json:"action"`
	Token    string   `json:"token"`
	Slug     string   `json:"slug"`
	Password string   `json:"password"`
	Key      string   `json:"key"` // unsubscribe target: a slug or a token

	Latency   *float64   `json:"latency"`
	StartTime *time.Time `json:"startTime"`
	EndTime   *time.Time `json:"endTime"`
	Custom1   *float64   `json:"custom1"`
	Custom2   *float64   `json:"custom2"`
	Custom3   *float64   `json:"custom3"`
}

func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		wsLog.Printf("upgrade failed: %v", err)
		return
	}

	c := h.hub.Connect(conn)
	c.Send(map[string]any{"action": "connected", "timestamp": time.Now().UTC()})

	c.ReadLoop(func(raw []byte) {
		h.handle(c, raw)
	})
	h.hub.Disconnect(c)
}

func (h *WebSocketHandler) handle(c *realtime.Client, raw []byte) {
	var a wsAction
	if err := json.Unmarshal(raw, &a); err != nil {
		h.reply(c, "error", "invalid JSON frame")
		return
	}

	switch a.Action {
	case "push":
		h.handlePush(c, a)
	case "subscribe":
		h.handleSubscribe(c, a)
	case "unsubscribe":
		h.hub.Unsubscribe(c, a.Key)
		c.Send(map[string]any{"action": "unsubscribed", "key": a.Key})
	case "list_subscriptions":
		c.Send(map[string]any{"action": "subscriptions", "subscriptions": h.hub.Subscriptions(c)})
	default:
		h.reply(c, "error", "unknown action "+a.Action)
	}
}

func (h *WebSocketHandler) handlePush(c *realtime.Client, a wsAction) {
	req := pulsestore.Request{
		Token:     a.Token,
		Latency:   a.Latency,
		StartTime: a.StartTime,
		EndTime:   a.EndTime,
		Custom1:   a.Custom1,
		Custom2:   a.Custom2,
		Custom3:   a.Custom3,
	}
	if err := h.pulses.Submit(req); err != nil {
		h.reply(c, "error", err.Error())
		return
	}
	c.Send(map[string]any{"action": "pushed", "timestamp": time.Now().UTC()})
}

func (h *WebSocketHandler) handleSubscribe(c *realtime.Client, a wsAction) {
	if a.Slug != "" {
		if err := h.hub.Subscribe(c, a.Slug, a.Password); err != nil {
			h.reply(c, "error", err.Error())
			return
		}
		c.Send(map[string]any{"action": "subscribed", "slug": a.Slug})
		return
	}
	if a.Token != "" {
		if err := h.hub.SubscribeWorker(c, a.Token); err != nil {
			h.reply(c, "error", err.Error())
			return
		}
		c.Send(map[string]any{"action": "subscribed", "token": a.Token})
		return
	}
	h.reply(c, "error", "subscribe requires slug or token")
}

func (h *WebSocketHandler) reply(c *realtime.Client, action, message string) {
	c.Send(map[string]any{"action": action, "message": message, "timestamp": time.Now().UTC()})
}
