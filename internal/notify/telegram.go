package notify

import (
	"context"
	"fmt"

	"github.com/projecthelena/pulsewarden/internal/config"
	"github.com/projecthelena/pulsewarden/internal/status"
)

const telegramAPIBase = "https://api.telegram.org/bot"

// TelegramProvider sends a plain-text message via the Bot API's sendMessage
// method, using the same sendJSON POST helper as the other HTTP providers.
type TelegramProvider struct {
	cfg config.TelegramConfig
}

func (p *TelegramProvider) Send(ctx context.Context, event status.Transition) error {
	if p.cfg.BotToken == "" || p.cfg.ChatID == "" {
		return fmt.Errorf("telegram: botToken or chatId missing")
	}

	emoji := "✅"
	switch event.Type {
	case "down", "still-down":
		emoji = "\U0001F6A8"
	case "degraded":
		emoji = "⚠️"
	}

	text := fmt.Sprintf("%s %s: %s is %s", emoji, event.SourceType, event.Name, event.Type)
	if event.GroupInfo != nil {
		text += fmt.Sprintf(" (group %s)", event.GroupInfo.GroupName)
	}

	url := telegramAPIBase + p.cfg.BotToken + "/sendMessage"
	payload := map[string]interface{}{
		"chat_id": p.cfg.ChatID,
		"text":    text,
	}
	return sendJSON(ctx, url, payload)
}
