// Package config loads and validates the TOML configuration document that
// drives the Configuration Cache (C1): monitors, groups, status pages and
// notification channels, plus the process-level knobs for every scheduled
// job in the engine.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/projecthelena/pulsewarden/internal/kinds"
)

// CustomMetric describes one of a monitor's up-to-three user-defined metrics.
type CustomMetric struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
	Unit string `toml:"unit"`
}

// Monitor is the on-disk shape of a monitor entity (§3 Data Model).
type Monitor struct {
	ID                    string        `toml:"id"`
	Token                 string        `toml:"token"`
	Name                  string        `toml:"name"`
	Interval              int           `toml:"interval"` // seconds
	MaxRetries            int           `toml:"maxRetries"`
	ToleranceFactor       float64       `toml:"toleranceFactor"`
	ResendNotification    int           `toml:"resendNotification"` // 0 = never
	GroupID               string        `toml:"groupId,omitempty"`
	NotificationChannels  []string      `toml:"notificationChannels,omitempty"`
	CustomMetrics         []CustomMetric `toml:"customMetrics,omitempty"` // up to 3, slot = index
	Dependencies          []string      `toml:"dependencies,omitempty"`
}

// IntervalDuration returns the monitor's nominal interval as a duration.
func (m Monitor) IntervalDuration() time.Duration {
	return time.Duration(m.Interval) * time.Second
}

// ToleranceDuration returns interval x toleranceFactor as a duration.
func (m Monitor) ToleranceDuration() time.Duration {
	return time.Duration(float64(m.Interval) * m.ToleranceFactor * float64(time.Second))
}

// Strategy enumerates the group composition rules (§3, §4.3.2).
type Strategy string

const (
	StrategyAnyUp      Strategy = "any-up"
	StrategyAllUp      Strategy = "all-up"
	StrategyPercentage Strategy = "percentage"
)

// Group is the on-disk shape of a group entity.
type Group struct {
	ID                   string   `toml:"id"`
	Name                 string   `toml:"name"`
	Strategy             Strategy `toml:"strategy"`
	DegradedThreshold    int      `toml:"degradedThreshold"` // percent, percentage strategy only
	Interval             int      `toml:"interval"`          // seconds, used for uptime windowing
	ParentID             string   `toml:"parentId,omitempty"`
	NotificationChannels []string `toml:"notificationChannels,omitempty"`
	Dependencies         []string `toml:"dependencies,omitempty"`
	ResendNotification   int      `toml:"resendNotification"` // 0 = never; consecutive-down checks between re-alerts
}

func (g Group) IntervalDuration() time.Duration {
	return time.Duration(g.Interval) * time.Second
}

// StatusPage is the on-disk shape of a status page entity.
type StatusPage struct {
	Slug     string   `toml:"slug"`
	Name     string   `toml:"name"`
	Items    []string `toml:"items,omitempty"` // ordered monitor/group IDs
	Password string   `toml:"password,omitempty"`
}

// EmailConfig, DiscordConfig, NtfyConfig, TelegramConfig and WebhookConfig
// are opaque provider blobs (§4.5) — the core only checks that at least one
// is present and enabled; wire shapes belong to the providers themselves.
type EmailConfig struct {
	Enabled  bool   `toml:"enabled"`
	SMTPHost string `toml:"smtpHost"`
	SMTPPort int    `toml:"smtpPort"`
	From     string `toml:"from"`
	To       string `toml:"to"`
}

type DiscordConfig struct {
	Enabled    bool   `toml:"enabled"`
	WebhookURL string `toml:"webhookUrl"`
}

type NtfyConfig struct {
	Enabled bool   `toml:"enabled"`
	Topic   string `toml:"topic"`
	Server  string `toml:"server"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"botToken"`
	ChatID   string `toml:"chatId"`
}

type WebhookConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
}

// NotificationChannel is the on-disk shape of a notification channel entity.
type NotificationChannel struct {
	ID       string         `toml:"id"`
	Name     string         `toml:"name"`
	Enabled  bool           `toml:"enabled"`
	Email    *EmailConfig    `toml:"email,omitempty"`
	Discord  *DiscordConfig  `toml:"discord,omitempty"`
	Ntfy     *NtfyConfig     `toml:"ntfy,omitempty"`
	Telegram *TelegramConfig `toml:"telegram,omitempty"`
	Webhook  *WebhookConfig  `toml:"webhook,omitempty"`
}

// HasEnabledProvider reports whether at least one sub-provider is enabled.
func (c NotificationChannel) HasEnabledProvider() bool {
	return (c.Email != nil && c.Email.Enabled) ||
		(c.Discord != nil && c.Discord.Enabled) ||
		(c.Ntfy != nil && c.Ntfy.Enabled) ||
		(c.Telegram != nil && c.Telegram.Enabled) ||
		(c.Webhook != nil && c.Webhook.Enabled)
}

// Admin holds the admin-API bearer token (§6).
type Admin struct {
	Token string `toml:"token"`
}

// Server holds transport-level listen settings.
type Server struct {
	ListenAddr string `toml:"listenAddr"`
}

// Database selects and configures the storage backend.
type Database struct {
	Type string `toml:"type"` // "sqlite" or "postgres"
	Path string `toml:"path"`
	URL  string `toml:"url"`
}

// PulseStore configures the C2 write buffer.
type PulseStore struct {
	MaxBatch      int           `toml:"maxBatch"`
	FlushInterval time.Duration `toml:"flushInterval"`
	MaxBufferSize int           `toml:"maxBufferSize"`
}

// Detector configures the C4 missing-pulse scan and the startup grace window.
type Detector struct {
	CheckInterval time.Duration `toml:"checkInterval"`
	GracePeriod   time.Duration `toml:"gracePeriod"`
}

// Aggregation configures the C6 rollup job.
type Aggregation struct {
	Interval    time.Duration `toml:"interval"`
	StaleAfter  time.Duration `toml:"staleAfter"` // single-flight forced-abort ceiling
}

// SelfMonitorID is the reserved monitor ID the self-monitor's own pulses are
// recorded under, and under which it is registered as a synthetic,
// token-less row in the Configuration Cache — never assignable to a
// user-configured monitor since config IDs come from the TOML document.
const SelfMonitorID = "__selfmonitor__"

// SelfMonitor configures the C7 liveness probe + backfill policy.
type SelfMonitor struct {
	Interval             time.Duration `toml:"interval"`
	LatencyStrategy      string        `toml:"latencyStrategy"` // "last-known" | "null"
	ToleranceFactor      float64       `toml:"toleranceFactor"`
	ResendNotification   int           `toml:"resendNotification"` // 0 = never
	NotificationChannels []string      `toml:"notificationChannels,omitempty"`
}

// Document is the full parsed configuration snapshot (§9: "immutable
// configuration snapshot"; §4.1 hot-reload swaps this pointer atomically).
type Document struct {
	Admin                Admin                 `toml:"admin"`
	Server               Server                `toml:"server"`
	Database             Database              `toml:"database"`
	PulseStore           PulseStore            `toml:"pulseStore"`
	Detector             Detector              `toml:"detector"`
	Aggregation          Aggregation           `toml:"aggregation"`
	SelfMonitor          SelfMonitor           `toml:"selfMonitor"`
	Monitors             []Monitor             `toml:"monitors"`
	Groups               []Group               `toml:"groups"`
	StatusPages          []StatusPage          `toml:"statusPages"`
	NotificationChannels []NotificationChannel `toml:"notificationChannels"`
}

// Defaults returns a document with every process-level default from §4-§5
// applied; callers overlay the parsed file on top of this.
func Defaults() Document {
	return Document{
		Server: Server{ListenAddr: ":8080"},
		Database: Database{
			Type: "sqlite",
			Path: "./pulsewarden.db",
		},
		PulseStore: PulseStore{
			MaxBatch:      50,
			FlushInterval: 5 * time.Second,
			MaxBufferSize: 10000,
		},
		Detector: Detector{
			CheckInterval: 30 * time.Second,
			GracePeriod:   60 * time.Second,
		},
		Aggregation: Aggregation{
			Interval:   10 * time.Minute,
			StaleAfter: 5 * time.Minute,
		},
		SelfMonitor: SelfMonitor{
			Interval:        3 * time.Second,
			LatencyStrategy: "last-known",
			ToleranceFactor: 2.0,
		},
	}
}

// Path resolves the configuration file path from $CONFIG, defaulting to
// ./config.toml.
func Path() string {
	if p := os.Getenv("CONFIG"); p != "" {
		return p
	}
	return "./config.toml"
}

// Load reads and parses the TOML document at path, overlaying it onto
// Defaults(), then validates it structurally.
func Load(path string) (*Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kinds.Wrap(kinds.ConfigInvalid, "read config file", err)
	}
	doc := Defaults()
	if err := toml.Unmarshal(raw, &doc); err != nil {
		return nil, kinds.Wrap(kinds.ConfigInvalid, "parse config file", err)
	}
	applyEnvOverrides(&doc)
	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// applyEnvOverrides layers a handful of process-level env vars on top of
// the parsed document, letting deployment config override the file
// without editing it.
func applyEnvOverrides(doc *Document) {
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		doc.Server.ListenAddr = v
	}
	if v := os.Getenv("DB_TYPE"); v != "" {
		doc.Database.Type = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		doc.Database.Path = v
	}
	if v := os.Getenv("DB_URL"); v != "" {
		doc.Database.URL = v
	}
}

// Validate checks structural invariants that don't require building the
// dependency graph (uniqueness, required fields, enum membership). The
// dependency-cycle check lives in the cache package, which also needs the
// fully-resolved entity set.
func Validate(doc *Document) error {
	ids := make(map[string]bool)
	tokens := make(map[string]bool)

	for _, m := range doc.Monitors {
		if m.ID == "" {
			return kinds.New(kinds.ConfigInvalid, "monitor missing id")
		}
		if m.ID == SelfMonitorID {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("monitor id %q is reserved for the self-monitor", m.ID))
		}
		if ids[m.ID] {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("duplicate entity id %q", m.ID))
		}
		ids[m.ID] = true
		if m.Token == "" {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("monitor %q missing token", m.ID))
		}
		if tokens[m.Token] {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("duplicate monitor token for %q", m.ID))
		}
		tokens[m.Token] = true
		if m.Interval <= 0 {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("monitor %q interval must be > 0", m.ID))
		}
		if m.ToleranceFactor <= 0 {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("monitor %q toleranceFactor must be > 0", m.ID))
		}
		if len(m.CustomMetrics) > 3 {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("monitor %q declares more than 3 custom metrics", m.ID))
		}
	}

	slugs := make(map[string]bool)
	for _, g := range doc.Groups {
		if g.ID == "" {
			return kinds.New(kinds.ConfigInvalid, "group missing id")
		}
		if g.ID == SelfMonitorID {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("group id %q is reserved for the self-monitor", g.ID))
		}
		if ids[g.ID] {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("duplicate entity id %q", g.ID))
		}
		ids[g.ID] = true
		switch g.Strategy {
		case StrategyAnyUp, StrategyAllUp, StrategyPercentage:
		default:
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("group %q has invalid strategy %q", g.ID, g.Strategy))
		}
		if g.Strategy == StrategyPercentage && (g.DegradedThreshold < 0 || g.DegradedThreshold > 100) {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("group %q degradedThreshold out of range", g.ID))
		}
	}
	for _, p := range doc.StatusPages {
		if p.Slug == "" {
			return kinds.New(kinds.ConfigInvalid, "status page missing slug")
		}
		if slugs[p.Slug] {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("duplicate status page slug %q", p.Slug))
		}
		slugs[p.Slug] = true
	}

	chanIDs := make(map[string]bool)
	for _, c := range doc.NotificationChannels {
		if c.ID == "" {
			return kinds.New(kinds.ConfigInvalid, "notification channel missing id")
		}
		if chanIDs[c.ID] {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("duplicate notification channel id %q", c.ID))
		}
		chanIDs[c.ID] = true
		if c.Enabled && !c.HasEnabledProvider() {
			return kinds.New(kinds.ConfigInvalid, fmt.Sprintf("notification channel %q enabled with no enabled sub-provider", c.ID))
		}
	}

	return nil
}
