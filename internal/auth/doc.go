// ABOUTME: Package documentation for the auth package
// ABOUTME: Describes the ticket handshake flow

// Package auth implements the handshake that trusts a browser-originated
// WebSocket connection.
//
// The flow is two-step: the client POSTs to /auth with its stable user ID and
// the channel it wants to talk on, receiving a short-lived single-use ticket
// (an HS256 JWT carrying sub, chan and jti claims). It then opens the socket
// and presents the ticket in an auth frame. Consumption burns the jti in a
// TTL cache, so a consumed or expired ticket is always rejected and the
// client must fetch a fresh one.
package auth
