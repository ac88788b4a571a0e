// Package idempotency records which webhook keys already produced a business
// effect. Store layers TTL expiry, a throttled sweep, a read-through cache and
// per-key locking over a pluggable core.IdempotencyLedger.
package idempotency
