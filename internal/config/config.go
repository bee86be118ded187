// Package config holds the VoiceFlow runtime configuration: the Lark app
// identity, webhook settings, inference endpoints, and the event ledger.
// Secrets are read from env only and are never written back to disk.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Config is the root configuration for the VoiceFlow server.
type Config struct {
	Lark      LarkConfig      `json:"lark"`
	Webhook   WebhookConfig   `json:"webhook"`
	LLM       LLMConfig       `json:"llm"`
	STT       STTConfig       `json:"stt"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Ledger    LedgerConfig    `json:"ledger,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// LarkConfig identifies the bot application on the Feishu/Lark open platform.
type LarkConfig struct {
	AppID             string `json:"app_id"`
	AppSecret         string `json:"-"` // from env VOICEFLOW_APP_SECRET only
	VerificationToken string `json:"-"` // from env VOICEFLOW_VERIFICATION_TOKEN only
	Domain            string `json:"domain,omitempty"` // "feishu", "lark", or a full base URL
}

// WebhookConfig configures the inbound event listener.
type WebhookConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Path         string `json:"path"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // per-chat, sliding 60s window
	QueueSize    int    `json:"queue_size,omitempty"`     // pending pipeline runs before drop
	Workers      int    `json:"workers,omitempty"`
}

// LLMConfig points at an OpenAI-compatible chat completions API.
type LLMConfig struct {
	APIBase string `json:"api_base,omitempty"`
	APIKey  string `json:"-"` // from env VOICEFLOW_OPENAI_API_KEY only
	Model   string `json:"model,omitempty"`
}

// STTConfig points at an OpenAI-compatible audio transcription API.
type STTConfig struct {
	APIBase string `json:"api_base,omitempty"`
	APIKey  string `json:"-"` // from env VOICEFLOW_STT_API_KEY only
	Model   string `json:"model,omitempty"`
}

// PipelineConfig tunes the per-event processing run.
type PipelineConfig struct {
	// TimezoneOffsetHours is the civil time offset embedded in the
	// classifier prompt. Positive east of UTC.
	TimezoneOffsetHours int `json:"timezone_offset_hours"`
	// TimezoneName is sent to the Lark calendar API alongside timestamps.
	TimezoneName string `json:"timezone_name"`
	// CallTimeoutSeconds bounds each external call inside a run.
	CallTimeoutSeconds int `json:"call_timeout_seconds,omitempty"`
	// ReminderMinutes is the calendar reminder lead time.
	ReminderMinutes int `json:"reminder_minutes,omitempty"`
}

// LedgerConfig configures the processed-event ledger. An empty path
// disables persistence; the in-memory dedupe cache still applies.
type LedgerConfig struct {
	Path           string `json:"path,omitempty"`
	RetentionHours int    `json:"retention_hours,omitempty"`
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // host:port, HTTP transport
	Insecure     bool   `json:"insecure,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Lark: LarkConfig{
			Domain: "feishu",
		},
		Webhook: WebhookConfig{
			Host:         "0.0.0.0",
			Port:         18902,
			Path:         "/webhook/events",
			RateLimitRPM: 30,
			QueueSize:    256,
			Workers:      4,
		},
		LLM: LLMConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		STT: STTConfig{
			APIBase: "https://api.openai.com/v1",
			Model:   "whisper-1",
		},
		Pipeline: PipelineConfig{
			TimezoneOffsetHours: 8,
			TimezoneName:        "Asia/Shanghai",
			CallTimeoutSeconds:  30,
			ReminderMinutes:     15,
		},
		Ledger: LedgerConfig{
			RetentionHours: 24,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, cfg.validate()
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, cfg.validate()
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("VOICEFLOW_APP_ID", &c.Lark.AppID)
	envStr("VOICEFLOW_APP_SECRET", &c.Lark.AppSecret)
	envStr("VOICEFLOW_VERIFICATION_TOKEN", &c.Lark.VerificationToken)
	envStr("VOICEFLOW_LARK_DOMAIN", &c.Lark.Domain)
	envStr("VOICEFLOW_OPENAI_API_KEY", &c.LLM.APIKey)
	envStr("VOICEFLOW_OPENAI_API_BASE", &c.LLM.APIBase)
	envStr("VOICEFLOW_LLM_MODEL", &c.LLM.Model)
	envStr("VOICEFLOW_STT_API_KEY", &c.STT.APIKey)
	envStr("VOICEFLOW_STT_API_BASE", &c.STT.APIBase)
	envStr("VOICEFLOW_LEDGER_PATH", &c.Ledger.Path)
	envStr("VOICEFLOW_OTLP_ENDPOINT", &c.Telemetry.OTLPEndpoint)

	if v := os.Getenv("VOICEFLOW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Webhook.Port = port
		}
	}
	if c.STT.APIKey == "" {
		// The STT and chat APIs frequently share one key.
		c.STT.APIKey = c.LLM.APIKey
	}
}

func (c *Config) validate() error {
	if c.Lark.AppID == "" || c.Lark.AppSecret == "" {
		return fmt.Errorf("lark app_id and app_secret are required (set VOICEFLOW_APP_ID / VOICEFLOW_APP_SECRET)")
	}
	if c.Lark.VerificationToken == "" {
		return fmt.Errorf("lark verification token is required (set VOICEFLOW_VERIFICATION_TOKEN)")
	}
	if c.Webhook.Port <= 0 || c.Webhook.Port > 65535 {
		return fmt.Errorf("invalid webhook port %d", c.Webhook.Port)
	}
	return nil
}
