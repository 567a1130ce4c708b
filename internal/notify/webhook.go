package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/status"
)

// sendJSON POSTs payload as JSON, taking a context so each provider call
// honors the dispatcher's per-provider timeout rather than a package-level
// client.
func sendJSON(ctx context.Context, url string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("request failed with status code %d", resp.StatusCode)
	}
	return nil
}

// WebhookProvider POSTs the transition event verbatim as JSON to a
// user-configured URL.
type WebhookProvider struct {
	cfg config.WebhookConfig
}

func (p *WebhookProvider) Send(ctx context.Context, event status.Transition) error {
	if p.cfg.URL == "" {
		return fmt.Errorf("webhook: url missing")
	}
	payload := map[string]interface{}{
		"type":       event.Type,
		"sourceType": event.SourceType,
		"id":         event.ID,
		"name":       event.Name,
		"timestamp":  event.Timestamp,
	}
	if event.GroupInfo != nil {
		payload["groupId"] = event.GroupInfo.GroupID
		payload["groupName"] = event.GroupInfo.GroupName
	}
	return sendJSON(ctx, p.cfg.URL, payload)
}
