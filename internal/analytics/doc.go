// Package analytics exports conversation events to Kafka for downstream
// analysis. Export is best-effort: the analytics queue retries transient
// broker errors, and a disabled config publishes to a no-op sink.
package analytics
