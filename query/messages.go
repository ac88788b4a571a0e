package query

import (
	"strings"

	"github.com/goliatone/go-pix-webhooks/core"
)

const (
	TypeGetIdempotencyRecord = "pix_webhooks.query.idempotency_record.get"
	TypeStats                = "pix_webhooks.query.stats"
)

// GetIdempotencyRecordMessage looks a record up either by its full key or by
// event and entity id.
type GetIdempotencyRecordMessage struct {
	Key      string
	Event    core.EventType
	EntityID string
}

func (GetIdempotencyRecordMessage) Type() string { return TypeGetIdempotencyRecord }

func (m GetIdempotencyRecordMessage) Validate() error {
	if strings.TrimSpace(m.Key) != "" {
		return nil
	}
	if strings.TrimSpace(string(m.Event)) == "" {
		return queryValidationError("event", "is required when key is empty")
	}
	if !m.Event.Known() {
		return queryValidationError("event", "is not a known event")
	}
	if strings.TrimSpace(m.EntityID) == "" {
		return queryValidationError("entity_id", "is required when key is empty")
	}
	return nil
}

func (m GetIdempotencyRecordMessage) ResolvedKey() string {
	if key := strings.TrimSpace(m.Key); key != "" {
		return key
	}
	return core.IdempotencyKey(m.Event, strings.TrimSpace(m.EntityID))
}

type StatsMessage struct{}

func (StatsMessage) Type() string { return TypeStats }
