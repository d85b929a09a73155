// ABOUTME: Configuration loading and parsing for parley-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Queues    QueuesConfig    `yaml:"queues"`
	Agent     AgentConfig     `yaml:"agent"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds ticket issuance configuration
type AuthConfig struct {
	TicketSecret string        `yaml:"ticket_secret"`
	TicketTTL    time.Duration `yaml:"-"`

	TicketTTLRaw string `yaml:"ticket_ttl"`
}

// SessionConfig holds real-time session timing configuration
type SessionConfig struct {
	AuthTimeout     time.Duration `yaml:"-"`
	GreetingTimeout time.Duration `yaml:"-"`
	DispatchTimeout time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	AuthTimeoutRaw     string `yaml:"auth_timeout"`
	GreetingTimeoutRaw string `yaml:"greeting_timeout"`
	DispatchTimeoutRaw string `yaml:"dispatch_timeout"`
}

// DispatchConfig holds message dispatcher configuration
type DispatchConfig struct {
	DedupWindow time.Duration `yaml:"-"`

	DedupWindowRaw string `yaml:"dedup_window"`
}

// QueuesConfig holds job queue configuration
type QueuesConfig struct {
	Workers      int           `yaml:"workers"`
	MaxAttempts  int           `yaml:"max_attempts"`
	MaxWaiting   int           `yaml:"max_waiting"`
	BackoffBase  time.Duration `yaml:"-"`
	BackoffCap   time.Duration `yaml:"-"`
	RetainFor    time.Duration `yaml:"-"`
	PruneCron    string        `yaml:"prune_cron"`
	SnapshotCron string        `yaml:"snapshot_cron"`

	BackoffBaseRaw string `yaml:"backoff_base"`
	BackoffCapRaw  string `yaml:"backoff_cap"`
	RetainForRaw   string `yaml:"retain_for"`

	// Overrides maps a queue name to settings that replace the defaults above.
	Overrides map[string]QueueOverride `yaml:"overrides"`
}

// QueueOverride holds per-queue overrides for worker count and retry policy.
type QueueOverride struct {
	Workers     int    `yaml:"workers"`
	MaxAttempts int    `yaml:"max_attempts"`
	MaxWaiting  int    `yaml:"max_waiting"`
	BackoffBase string `yaml:"backoff_base"`
	BackoffCap  string `yaml:"backoff_cap"`
}

// AgentConfig holds agent backend configuration
type AgentConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// ChannelsConfig holds configuration for all delivery channel adapters
type ChannelsConfig struct {
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
	Slack    SlackConfig    `yaml:"slack"`
	Webhook  WebhookConfig  `yaml:"webhook"`
}

// WhatsAppConfig holds the native WhatsApp sender configuration
type WhatsAppConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	// Channel is the gateway channel inbound Telegram traffic is attributed to.
	Channel string `yaml:"channel"`
}

// EmailConfig holds outbound SMTP configuration
type EmailConfig struct {
	Enabled  bool   `yaml:"enabled"`
	SMTPAddr string `yaml:"smtp_addr"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SlackConfig holds operator notification configuration
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	SigningSecret string        `yaml:"signing_secret"`
	Timeout       time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// AnalyticsConfig holds Kafka event export configuration
type AnalyticsConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills in zero-valued fields with operational defaults.
func (c *Config) ApplyDefaults() {
	if c.Auth.TicketTTL == 0 {
		c.Auth.TicketTTL = 60 * time.Second
	}
	if c.Session.AuthTimeout == 0 {
		c.Session.AuthTimeout = 10 * time.Second
	}
	if c.Session.GreetingTimeout == 0 {
		c.Session.GreetingTimeout = 5 * time.Second
	}
	if c.Session.DispatchTimeout == 0 {
		c.Session.DispatchTimeout = 30 * time.Second
	}
	if c.Dispatch.DedupWindow == 0 {
		c.Dispatch.DedupWindow = 60 * time.Second
	}
	if c.Queues.Workers == 0 {
		c.Queues.Workers = 2
	}
	if c.Queues.MaxAttempts == 0 {
		c.Queues.MaxAttempts = 3
	}
	if c.Queues.BackoffBase == 0 {
		c.Queues.BackoffBase = time.Second
	}
	if c.Queues.BackoffCap == 0 {
		c.Queues.BackoffCap = 5 * time.Minute
	}
	if c.Queues.RetainFor == 0 {
		c.Queues.RetainFor = 24 * time.Hour
	}
	if c.Channels.Webhook.Timeout == 0 {
		c.Channels.Webhook.Timeout = 15 * time.Second
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.TicketSecret == "" {
		return fmt.Errorf("auth.ticket_secret is required")
	}

	if c.Queues.Workers < 0 {
		return fmt.Errorf("queues.workers must not be negative")
	}

	if c.Analytics.Enabled && len(c.Analytics.Brokers) == 0 {
		return fmt.Errorf("analytics.brokers is required when analytics is enabled")
	}

	if c.Channels.Telegram.Enabled && c.Channels.Telegram.BotToken == "" {
		return fmt.Errorf("channels.telegram.bot_token is required when telegram is enabled")
	}

	if c.Channels.Slack.Enabled && c.Channels.Slack.BotToken == "" {
		return fmt.Errorf("channels.slack.bot_token is required when slack is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Auth.TicketTTLRaw, &cfg.Auth.TicketTTL, "ticket_ttl"},
		{cfg.Session.AuthTimeoutRaw, &cfg.Session.AuthTimeout, "auth_timeout"},
		{cfg.Session.GreetingTimeoutRaw, &cfg.Session.GreetingTimeout, "greeting_timeout"},
		{cfg.Session.DispatchTimeoutRaw, &cfg.Session.DispatchTimeout, "dispatch_timeout"},
		{cfg.Dispatch.DedupWindowRaw, &cfg.Dispatch.DedupWindow, "dedup_window"},
		{cfg.Queues.BackoffBaseRaw, &cfg.Queues.BackoffBase, "backoff_base"},
		{cfg.Queues.BackoffCapRaw, &cfg.Queues.BackoffCap, "backoff_cap"},
		{cfg.Queues.RetainForRaw, &cfg.Queues.RetainFor, "retain_for"},
		{cfg.Channels.Webhook.TimeoutRaw, &cfg.Channels.Webhook.Timeout, "webhook timeout"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
