package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TopicPrefix is the standard prefix for all Aptbooks topics.
const TopicPrefix = "aptbooks"

// Topic constructs a fully-qualified topic name, e.g. aptbooks.ledger.events.
func Topic(domain, action string) string {
	return fmt.Sprintf("%s.%s.%s", TopicPrefix, domain, action)
}

// Event is the envelope of every message published for a bookkeeping change.
type Event struct {
	EventID        string            `json:"event_id"`
	EventType      string            `json:"event_type"`
	AggregateID    string            `json:"aggregate_id"`
	AggregateType  string            `json:"aggregate_type"`
	OrganizationID string            `json:"organization_id"`
	Version        int               `json:"version"`
	Timestamp      time.Time         `json:"timestamp"`
	Source         string            `json:"source"`
	CorrelationID  string            `json:"correlation_id,omitempty"`
	Data           json.RawMessage   `json:"data"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates an event for the aggregate within orgID, stamped with a
// fresh ID and the current time.
func NewEvent(eventType, orgID, aggregateType, aggregateID, source string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return &Event{
		EventID:        uuid.New().String(),
		EventType:      eventType,
		AggregateID:    aggregateID,
		AggregateType:  aggregateType,
		OrganizationID: orgID,
		Version:        1,
		Timestamp:      time.Now().UTC(),
		Source:         source,
		Data:           raw,
	}, nil
}

// WithCorrelationID sets the correlation ID, usually the request ID.
func (e *Event) WithCorrelationID(id string) *Event {
	e.CorrelationID = id
	return e
}

// WithMetadata adds a key-value pair to the event metadata.
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalData deserializes the event payload into target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}
