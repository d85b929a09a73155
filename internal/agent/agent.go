// ABOUTME: Agent abstraction: turns a conversation transcript into a reply
// ABOUTME: Invoker and Embedder are the seams the OpenAI-backed client plugs into

package agent

import (
	"context"
	"errors"
)

// ErrUnavailable means the agent backend could not produce a reply. Callers
// surface it to the session as a retryable failure rather than closing.
var ErrUnavailable = errors.New("agent unavailable")

// Turn is one prior exchange in the transcript sent to the agent.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request is everything the agent needs to answer one user message.
type Request struct {
	// Model selects the backend model; empty picks the configured default.
	Model string
	// System primes the agent with the channel's persona, if any.
	System string
	// History is the prior transcript, oldest first.
	History []Turn
	// Input is the new user message.
	Input string
}

// Usage reports token consumption for one invocation.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

// Reply is the agent's answer.
type Reply struct {
	Text  string `json:"text"`
	Model string `json:"model"`
	Usage Usage  `json:"usage"`
}

// Invoker produces replies. Implementations must be safe for concurrent use.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Reply, error)
}

// Embedder turns text chunks into vectors for the document pipeline.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
