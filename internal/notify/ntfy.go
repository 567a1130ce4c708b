package notify

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/status"
)

const defaultNtfyServer = "https://ntfy.sh"

// NtfyProvider publishes a plain-text push to an ntfy topic, following
// ntfy's plain-body-POST convention (no JSON envelope, priority/title via
// headers).
type NtfyProvider struct {
	cfg config.NtfyConfig
}

func (p *NtfyProvider) Send(ctx context.Context, event status.Transition) error {
	if p.cfg.Topic == "" {
		return fmt.Errorf("ntfy: topic missing")
	}
	server := p.cfg.Server
	if server == "" {
		server = defaultNtfyServer
	}

	title := "Recovered"
	priority := "default"
	switch event.Type {
	case "down", "still-down":
		title, priority = "Down", "high"
	case "degraded":
		title, priority = "Degraded", "default"
	}

	url := strings.TrimSuffix(server, "/") + "/" + p.cfg.Topic
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(event.Name+" is "+event.Type))
	if err != nil {
		return err
	}
	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ntfy: request failed with status code %d", resp.StatusCode)
	}
	return nil
}
