// Package agent wraps the language model behind the gateway. The Invoker
// interface answers conversation turns and Embedder vectorizes document
// chunks; both are backed by the OpenAI API in production and by fakes in
// tests.
package agent
