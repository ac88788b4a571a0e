// Package retry implements the bounded retry queue for effect flows that
// failed on a critical step. Entries are scheduled with linear backoff and
// drained atomically once due.
package retry
