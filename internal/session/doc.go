// ABOUTME: Package documentation for the session package
// ABOUTME: Describes the connection lifecycle and frame protocol

// Package session manages real-time client connections. Each connection
// walks a strict lifecycle: Connecting until the server sends its connected
// frame, Authenticating until the client presents a valid single-use ticket
// within the auth timeout, Authenticated while messages flow, and Closed.
//
// Authentication immediately kicks off the conversation greeting in the
// background; a slow agent can delay the greeting but never the user's first
// message. Message frames run through the dispatcher under a per-message
// timeout, and closing the session cancels anything still in flight.
//
// There is one concurrent write to the socket from the keepalive ping and
// the greeting goroutine, so all frame writes are serialized behind a mutex.
package session
