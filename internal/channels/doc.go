// ABOUTME: Package documentation for the channels package
// ABOUTME: Outbound transports and their queue handlers

// Package channels holds the outbound side of every transport the gateway
// speaks: WhatsApp via whatsmeow, Telegram via the Bot API, email over SMTP
// with markdown rendered to HTML, Slack for operator notifications, and
// signed webhooks for integrations. Each transport is driven by its own
// queue, so a slow or down transport backs up its queue without touching
// the others.
package channels
