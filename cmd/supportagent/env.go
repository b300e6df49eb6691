package main

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/app"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/store"
	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for support agent state data
	DefaultStateDir = "/var/lib/supportagent"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "supportagent.db"
	// MemoryDSN selects the in-memory store.
	MemoryDSN = "memory"
)

// loadEnvironmentConfig reads the process configuration from the environment.
// Flags registered on the serve command use these values as defaults.
func loadEnvironmentConfig() app.Config {
	cfg := app.Config{
		StateDir:          util.GetenvDefault("SUPPORTAGENT_STATE_DIR", DefaultStateDir),
		DatabaseDSN:       util.GetenvDefault("DATABASE_URL", ""),
		AgentConfigPath:   util.GetenvDefault("AGENT_CONFIG_PATH", ""),
		APIAddr:           util.GetenvDefault("API_ADDR", ""),
		AdminToken:        util.GetenvDefault("ADMIN_TOKEN", ""),
		WebhookToken:      util.GetenvDefault("WEBHOOK_TOKEN", ""),
		OpenAIKey:         util.GetenvDefault("OPENAI_API_KEY", ""),
		OpenRouterKey:     util.GetenvDefault("OPENROUTER_API_KEY", ""),
		LLMBaseURL:        util.GetenvDefault("LLM_BASE_URL", ""),
		DebugLLM:          util.ParseBoolEnv("LLM_DEBUG", false),
		Workers:           util.ParseIntEnv("QUEUE_WORKERS", 0),
		Lanes:             util.ParseIntEnv("QUEUE_LANES", 0),
		MaxDeliveries:     util.ParseIntEnv("QUEUE_MAX_DELIVERIES", 0),
		VisibilityTimeout: util.ParseDurationEnv("QUEUE_VISIBILITY_TIMEOUT", 0),
		QueuePoll:         util.ParseDurationEnv("QUEUE_POLL_INTERVAL", 0),
		OutboxPoll:        util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", 2*time.Second),
		ReaperSpec:        util.GetenvDefault("REAPER_SCHEDULE", ""),
		RecoverySpec:      util.GetenvDefault("OUTBOX_RECOVERY_SCHEDULE", ""),
		StatusSpec:        util.GetenvDefault("STATUS_SCHEDULE", ""),
		TikTokSendURL:     util.GetenvDefault("TIKTOK_SEND_URL", ""),
		LinkedInSendURL:   util.GetenvDefault("LINKEDIN_SEND_URL", ""),
		SendToken:         util.GetenvDefault("PLATFORM_SEND_TOKEN", ""),
		Notify: app.NotifyConfig{
			TwilioRecipients:   splitList(util.GetenvDefault("TWILIO_ALERT_RECIPIENTS", "")),
			TwilioChannel:      util.GetenvDefault("TWILIO_ALERT_CHANNEL", ""),
			WhatsAppRecipients: splitList(util.GetenvDefault("WHATSAPP_ALERT_RECIPIENTS", "")),
			WhatsAppDSN:        util.GetenvDefault("WHATSAPP_DB_DSN", ""),
			WhatsAppQRPath:     util.GetenvDefault("WHATSAPP_QR_OUTPUT", ""),
			WhatsAppNumeric:    util.ParseBoolEnv("WHATSAPP_NUMERIC_CODE", false),
		},
	}

	slog.Debug("environment variables loaded",
		"SUPPORTAGENT_STATE_DIR", cfg.StateDir,
		"DATABASE_URL_SET", cfg.DatabaseDSN != "",
		"AGENT_CONFIG_PATH", cfg.AgentConfigPath,
		"API_ADDR", cfg.APIAddr,
		"ADMIN_TOKEN_SET", cfg.AdminToken != "",
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"OPENROUTER_API_KEY_SET", cfg.OpenRouterKey != "",
		"TWILIO_ALERT_RECIPIENTS", len(cfg.Notify.TwilioRecipients),
		"WHATSAPP_ALERT_RECIPIENTS", len(cfg.Notify.WhatsAppRecipients))
	return cfg
}

// resolveStorage fills in the database and WhatsApp session DSNs. Without a
// DSN the agent uses SQLite in the state directory; "memory" selects the
// in-memory store.
func resolveStorage(cfg *app.Config) {
	switch cfg.DatabaseDSN {
	case "":
		cfg.DatabaseDSN = filepath.Join(cfg.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", cfg.DatabaseDSN)
	case MemoryDSN:
		cfg.DatabaseDSN = ""
		slog.Debug("In-memory store selected")
	}
	// whatsmeow shares a PostgreSQL database but keeps its own SQLite file.
	if cfg.Notify.WhatsAppDSN == "" {
		if cfg.DatabaseDSN != "" && store.DetectDSNType(cfg.DatabaseDSN) == store.BackendPostgres {
			cfg.Notify.WhatsAppDSN = cfg.DatabaseDSN
		} else {
			cfg.Notify.WhatsAppDSN = "file:" + filepath.Join(cfg.StateDir, "whatsmeow.db") + "?_foreign_keys=on"
		}
	}
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
