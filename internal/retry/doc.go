// Package retry implements the exponential backoff policy used for failed
// jobs and flaky outbound sends. Delays double per failure from a base and
// are capped, with optional jitter; errors wrapped with Permanent skip
// retries entirely.
package retry
