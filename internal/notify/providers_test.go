package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/status"
)

func testEvent() status.Transition {
	return status.Transition{
		Type:       "down",
		SourceType: "monitor",
		ID:         "m1",
		Name:       "api",
		Timestamp:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWebhookProviderPostsJSON(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &WebhookProvider{cfg: config.WebhookConfig{Enabled: true, URL: srv.URL}}
	if err := p.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if received["id"] != "m1" {
		t.Errorf("expected id m1 in payload, got %v", received)
	}
}

func TestWebhookProviderMissingURL(t *testing.T) {
	p := &WebhookProvider{cfg: config.WebhookConfig{Enabled: true}}
	if err := p.Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestWebhookProviderPropagatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := &WebhookProvider{cfg: config.WebhookConfig{Enabled: true, URL: srv.URL}}
	if err := p.Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error on 5xx response")
	}
}

func TestDiscordProviderPostsEmbed(t *testing.T) {
	var received map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &DiscordProvider{cfg: config.DiscordConfig{Enabled: true, WebhookURL: srv.URL}}
	if err := p.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, ok := received["embeds"]; !ok {
		t.Errorf("expected embeds field, got %v", received)
	}
}

func TestNtfyProviderSetsHeaders(t *testing.T) {
	var gotTitle, gotPriority string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.Header.Get("Title")
		gotPriority = r.Header.Get("Priority")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := &NtfyProvider{cfg: config.NtfyConfig{Enabled: true, Topic: "alerts", Server: srv.URL}}
	if err := p.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotTitle != "Down" {
		t.Errorf("expected title Down, got %q", gotTitle)
	}
	if gotPriority != "high" {
		t.Errorf("expected priority high, got %q", gotPriority)
	}
}

func TestTelegramProviderMissingConfig(t *testing.T) {
	p := &TelegramProvider{cfg: config.TelegramConfig{Enabled: true}}
	if err := p.Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error for missing botToken/chatId")
	}
}

func TestEmailProviderMissingConfig(t *testing.T) {
	p := &EmailProvider{cfg: config.EmailConfig{Enabled: true}}
	if err := p.Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error for missing smtp fields")
	}
}

func TestProvidersForSelectsOnlyEnabled(t *testing.T) {
	ch := config.NotificationChannel{
		ID:      "c1",
		Enabled: true,
		Email:   &config.EmailConfig{Enabled: false},
		Discord: &config.DiscordConfig{Enabled: true, WebhookURL: "http://example.invalid"},
		Webhook: &config.WebhookConfig{Enabled: true, URL: "http://example.invalid"},
	}
	providers := providersFor(ch)
	if len(providers) != 2 {
		t.Fatalf("expected 2 enabled providers, got %d", len(providers))
	}
}

func TestProvidersForEmptyWhenNoneConfigured(t *testing.T) {
	ch := config.NotificationChannel{ID: "c1", Enabled: true}
	if providers := providersFor(ch); len(providers) != 0 {
		t.Fatalf("expected no providers, got %d", len(providers))
	}
}
