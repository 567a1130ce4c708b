package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/status"
)

// DiscordProvider posts a Discord-embed-shaped payload to a channel webhook.
type DiscordProvider struct {
	cfg config.DiscordConfig
}

func (p *DiscordProvider) Send(ctx context.Context, event status.Transition) error {
	if p.cfg.WebhookURL == "" {
		return fmt.Errorf("discord: webhookUrl missing")
	}

	color := 0x2ecc71 // green
	title := "Recovered"
	switch event.Type {
	case "down", "still-down":
		color, title = 0xe74c3c, "Down"
	case "degraded":
		color, title = 0xf1c40f, "Degraded"
	}

	fields := []map[string]interface{}{
		{"name": "Name", "value": event.Name, "inline": true},
		{"name": "Type", "value": string(event.SourceType), "inline": true},
	}
	if event.GroupInfo != nil {
		fields = append(fields, map[string]interface{}{"name": "Group", "value": event.GroupInfo.GroupName, "inline": true})
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{
			{
				"title":     fmt.Sprintf("%s: %s", title, event.Name),
				"color":     color,
				"fields":    fields,
				"timestamp": event.Timestamp.Format(time.RFC3339),
			},
		},
	}
	return sendJSON(ctx, p.cfg.WebhookURL, payload)
}
