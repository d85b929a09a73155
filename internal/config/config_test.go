// ABOUTME: Tests for configuration loading, env expansion, durations and validation
// ABOUTME: Uses temp files to exercise the full Load path

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: ":memory:"
auth:
  ticket_secret: "test-secret"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "test-secret", cfg.Auth.TicketSecret)

	// Defaults applied
	assert.Equal(t, 60*time.Second, cfg.Auth.TicketTTL)
	assert.Equal(t, 10*time.Second, cfg.Session.AuthTimeout)
	assert.Equal(t, 5*time.Second, cfg.Session.GreetingTimeout)
	assert.Equal(t, 30*time.Second, cfg.Session.DispatchTimeout)
	assert.Equal(t, 60*time.Second, cfg.Dispatch.DedupWindow)
	assert.Equal(t, 2, cfg.Queues.Workers)
	assert.Equal(t, 3, cfg.Queues.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Queues.BackoffBase)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoad_Durations(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: ":memory:"
auth:
  ticket_secret: "s"
  ticket_ttl: "90s"
session:
  auth_timeout: "3s"
  greeting_timeout: "2s"
  dispatch_timeout: "45s"
dispatch:
  dedup_window: "2m"
queues:
  backoff_base: "500ms"
  backoff_cap: "1m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Auth.TicketTTL)
	assert.Equal(t, 3*time.Second, cfg.Session.AuthTimeout)
	assert.Equal(t, 2*time.Second, cfg.Session.GreetingTimeout)
	assert.Equal(t, 45*time.Second, cfg.Session.DispatchTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Dispatch.DedupWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Queues.BackoffBase)
	assert.Equal(t, time.Minute, cfg.Queues.BackoffCap)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: ":memory:"
auth:
  ticket_secret: "s"
  ticket_ttl: "not-a-duration"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ticket_ttl")
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_SECRET", "from-env")

	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: ":memory:"
auth:
  ticket_secret: "${PARLEY_TEST_SECRET}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.TicketSecret)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "" },
			wantErr: "server.http_addr",
		},
		{
			name: "tailscale without hostname",
			mutate: func(c *Config) {
				c.Tailscale.Enabled = true
				c.Tailscale.Hostname = ""
			},
			wantErr: "tailscale.hostname",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "missing ticket secret",
			mutate:  func(c *Config) { c.Auth.TicketSecret = "" },
			wantErr: "auth.ticket_secret",
		},
		{
			name: "analytics without brokers",
			mutate: func(c *Config) {
				c.Analytics.Enabled = true
				c.Analytics.Brokers = nil
			},
			wantErr: "analytics.brokers",
		},
		{
			name: "telegram without token",
			mutate: func(c *Config) {
				c.Channels.Telegram.Enabled = true
			},
			wantErr: "channels.telegram.bot_token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Server:   ServerConfig{HTTPAddr: "localhost:8080"},
				Database: DatabaseConfig{Path: ":memory:"},
				Auth:     AuthConfig{TicketSecret: "s"},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_QueueOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: "localhost:8080"
database:
  path: ":memory:"
auth:
  ticket_secret: "s"
queues:
  workers: 4
  max_attempts: 5
  overrides:
    whatsapp-sending:
      workers: 1
      max_attempts: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Queues.Workers)
	assert.Equal(t, 5, cfg.Queues.MaxAttempts)
	ov, ok := cfg.Queues.Overrides["whatsapp-sending"]
	require.True(t, ok)
	assert.Equal(t, 1, ov.Workers)
	assert.Equal(t, 8, ov.MaxAttempts)
}
