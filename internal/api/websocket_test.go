package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestWebSocketConnectAndPush(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var connected map[string]any
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}
	if connected["action"] != "connected" {
		t.Fatalf("expected connected action first, got %+v", connected)
	}

	latency := 12.5
	push, _ := json.Marshal(map[string]any{"action": "push", "token": "tok1", "latency": latency})
	if err := conn.WriteMessage(websocket.TextMessage, push); err != nil {
		t.Fatalf("write push: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read push reply: %v", err)
	}
	if reply["action"] != "pushed" {
		t.Fatalf("expected pushed reply, got %+v", reply)
	}
}

func TestWebSocketSubscribeUnknownSlugErrors(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var connected map[string]any
	if err := conn.ReadJSON(&connected); err != nil {
		t.Fatalf("read connected frame: %v", err)
	}

	sub, _ := json.Marshal(map[string]any{"action": "subscribe", "slug": "does-not-exist"})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read subscribe reply: %v", err)
	}
	if reply["action"] != "error" {
		t.Fatalf("expected error reply for unknown slug, got %+v", reply)
	}
}
