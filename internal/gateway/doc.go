// Package gateway assembles the server from its parts: the SQLite store, the
// ticket service, the WebSocket session layer, the job queues with their
// worker pool, and the configured delivery channel adapters. Run blocks until
// the context is canceled and then shuts the components down in dependency
// order.
package gateway
