// ABOUTME: Package documentation for the dispatch package
// ABOUTME: Describes the inbound message path and its guarantees

// Package dispatch is the inbound message path shared by every transport.
// One Dispatch call persists the user message, invokes the agent with the
// conversation transcript, persists the reply, and fans background work out
// to the queues. Client retries carrying the same clientMessageId inside the
// dedup window are answered from cache, so the agent runs at most once per
// logical message. The package also owns the conversation greeting, which is
// sent exactly once per (user, channel) pair no matter how often the user
// reconnects.
package dispatch
