// Package pixwebhooks assembles the PIX gateway webhook pipeline: security
// gate, event validation, idempotency, effect flows and the retry queue.
package pixwebhooks

import "github.com/goliatone/go-pix-webhooks/core"

type Config = core.Config

type SecurityConfig = core.SecurityConfig
type IdempotencyConfig = core.IdempotencyConfig
type RetryConfig = core.RetryConfig
type EffectsConfig = core.EffectsConfig

type InboundRequest = core.InboundRequest
type TransportMeta = core.TransportMeta
type Envelope = core.Envelope
type EventType = core.EventType
type Notice = core.Notice
type IdempotencyRecord = core.IdempotencyRecord

type Logger = core.Logger
type MetricsRecorder = core.MetricsRecorder

func DefaultConfig() Config {
	return core.DefaultConfig()
}
