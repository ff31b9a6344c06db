package events

import "time"

// DomainEvent is implemented by every event raised by the domain layer.
// Concrete events live next to the aggregate that raises them.
type DomainEvent interface {
	EventType() EventType
	OccurredAt() time.Time
}

// EventEnvelope is the transport representation of a domain event. Event
// buses move envelopes; handlers unwrap the payload by Type.
type EventEnvelope struct {
	// Type identifies the category of this event for routing and handling.
	Type EventType

	// Key enables consistent event routing, typically containing a business
	// identifier like a ScanID that events can be grouped or partitioned by.
	Key string

	// Headers contain metadata key-value pairs attached to the event.
	Headers map[string]string

	// Timestamp records when this event was created.
	Timestamp time.Time

	// Payload contains the actual event data. The concrete type depends on
	// the EventType.
	Payload any
}

// NewEnvelope wraps a domain event for publishing.
func NewEnvelope(evt DomainEvent, params PublishParams) EventEnvelope {
	return EventEnvelope{
		Type:      evt.EventType(),
		Key:       params.Key,
		Headers:   params.Headers,
		Timestamp: evt.OccurredAt(),
		Payload:   evt,
	}
}
