package notify

import (
	"github.com/projecthelena/pulsewarden/internal/config"
)

// providersFor builds the enabled sub-provider set for a channel. Channel
// misconfiguration (missing field for an enabled provider) is rejected at
// config load (§4.5), so every provider constructed here is assumed valid.
func providersFor(ch config.NotificationChannel) []Provider {
	var providers []Provider
	if ch.Email != nil && ch.Email.Enabled {
		providers = append(providers, &EmailProvider{cfg: *ch.Email})
	}
	if ch.Discord != nil && ch.Discord.Enabled {
		providers = append(providers, &DiscordProvider{cfg: *ch.Discord})
	}
	if ch.Ntfy != nil && ch.Ntfy.Enabled {
		providers = append(providers, &NtfyProvider{cfg: *ch.Ntfy})
	}
	if ch.Telegram != nil && ch.Telegram.Enabled {
		providers = append(providers, &TelegramProvider{cfg: *ch.Telegram})
	}
	if ch.Webhook != nil && ch.Webhook.Enabled {
		providers = append(providers, &WebhookProvider{cfg: *ch.Webhook})
	}
	return providers
}
