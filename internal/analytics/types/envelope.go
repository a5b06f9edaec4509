package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/coinmarket-backend/pkg/enums"
)

// Envelope is one settlement message after the worker merged the stored
// payload envelope with the routing attributes. Payload is the event's data
// field, still encoded.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Payload       json.RawMessage
}
