// ABOUTME: Package documentation for the config package
// ABOUTME: Describes configuration structure and loading behavior

// Package config loads and validates the parley-gateway YAML configuration.
//
// Configuration files support ${VAR_NAME} environment variable expansion
// anywhere in the document, and human-readable duration strings ("30s", "5m")
// for all timeout and backoff fields.
//
// The configuration covers:
//
//   - server: HTTP listen address
//   - tailscale: optional tsnet listener replacing the plain TCP listener
//   - database: SQLite path for channels, conversations and history
//   - auth: ticket secret and TTL for the session handshake
//   - session: auth/greeting/dispatch timeouts for live connections
//   - dispatch: duplicate-message suppression window
//   - queues: worker counts, retry/backoff policy, per-queue overrides
//   - agent: OpenAI-compatible backend used for replies and embeddings
//   - channels: WhatsApp, Telegram, email, Slack and webhook delivery
//   - analytics: optional Kafka event export
//   - logging, metrics: observability settings
//
// Zero values receive operational defaults via ApplyDefaults, so a minimal
// config only needs server.http_addr, database.path and auth.ticket_secret.
package config
