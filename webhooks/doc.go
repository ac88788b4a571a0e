// Package webhooks coordinates one inbound delivery end to end:
// admit -> parse -> authorize -> validate -> lock -> duplicate check ->
// apply effects -> commit or schedule retry.
//
// Once effects start, apply and commit run on a context detached from the
// request so a client disconnect cannot leave an effect applied but
// uncommitted. Retries are replayed by DrainRetries, usually from a
// RetryRunner.
package webhooks
