// Package effects applies the business effects of a validated webhook event.
//
// Each event type maps to a flow: an ordered table of steps, each backed by a
// Capability and flagged critical or best-effort. A critical failure aborts
// the flow with a PROCESSING_ERROR so the coordinator can schedule a retry;
// best-effort failures are recorded as partial failures and the flow goes on.
// Flows are replayed whole on retry, so capabilities must be upserts keyed by
// transaction id.
package effects
