// ABOUTME: Package documentation for the store package
// ABOUTME: Describes the persistence layer and its SQLite backing

// Package store provides the persistence layer for parley-gateway.
//
// It holds the state that must outlive a single connection: operator-configured
// channels, per-(user, channel) conversation state (notably the greeting flag,
// which is how a conversation stays greeted across reconnects), full message
// history, and embedded document chunks produced by the document pipeline.
//
// The SQLite implementation uses modernc.org/sqlite (pure Go, no cgo), creates
// its schema on open, and runs in WAL mode. Sessions themselves are ephemeral
// and never stored here.
package store
