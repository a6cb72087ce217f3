// Package idempotency caches mutating-request responses by
// (X-Idempotency-Key, request fingerprint) for a bounded TTL so an
// exact repeat returns the prior response instead of re-executing.
package idempotency
