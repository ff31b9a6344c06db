// Package events provides domain event handling capabilities for communicating state changes
// and important activities across system boundaries in a decoupled way.
package events

import (
	"context"
)

// AckFunc acknowledges successful handling of an event. Buses without
// delivery tracking pass a no-op.
type AckFunc func(err error)

// HandlerFunc processes a single event received from a bus.
type HandlerFunc func(ctx context.Context, evt EventEnvelope, ack AckFunc) error

// DomainEventPublisher publishes domain events to notify other parts of the system about
// important domain changes. It provides a technology-agnostic interface to decouple event
// producers from the underlying messaging infrastructure.
type DomainEventPublisher interface {
	// PublishDomainEvent sends a domain event to interested subscribers.
	PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error
}

// EventBus enables publishing and subscribing to domain events across system boundaries.
// It abstracts messaging infrastructure details (Kafka, Redis, in-process) to keep domain
// logic focused on business concerns rather than transport mechanisms.
type EventBus interface {
	// Publish broadcasts an event to all interested subscribers.
	Publish(ctx context.Context, event EventEnvelope, opts ...PublishOption) error

	// Subscribe registers a handler function to process events of specified types.
	// The subscription ends when ctx is cancelled.
	Subscribe(ctx context.Context, eventTypes []EventType, handler HandlerFunc) error

	// Close gracefully shuts down the event bus and releases associated resources.
	Close() error
}

// busPublisher adapts an EventBus into a DomainEventPublisher.
type busPublisher struct{ bus EventBus }

// NewDomainEventPublisher returns a DomainEventPublisher that wraps each
// domain event in an envelope and hands it to bus.
func NewDomainEventPublisher(bus EventBus) DomainEventPublisher {
	return &busPublisher{bus: bus}
}

func (p *busPublisher) PublishDomainEvent(ctx context.Context, event DomainEvent, opts ...PublishOption) error {
	return p.bus.Publish(ctx, NewEnvelope(event, ApplyOptions(opts...)), opts...)
}
