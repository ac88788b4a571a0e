// Package inbound holds the two checks that run before a webhook reaches the
// effect pipeline: the SecurityGate, which enforces transport constraints and
// the shared-secret token, and the EventValidator, which parses and validates
// the event envelope.
//
// Both return go-errors envelopes carrying the webhook text codes
// (SECURITY_ERROR, VALIDATION_ERROR) so the transport can map them directly.
package inbound
