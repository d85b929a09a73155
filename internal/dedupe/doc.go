// Package dedupe provides TTL-based duplicate suppression for message IDs and
// single-use credentials, with optional value caching for answered duplicates.
package dedupe
