package eventdispatcher

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// EventHandler processes every event type it declares as supported.
type EventHandler interface {
	SupportedEvents() []events.EventType
	HandleEvent(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error
}

// Dispatcher routes events received from a bus to the single handler
// registered for their type.
//
// Typical usage:
//
//	d := eventdispatcher.New(tracer, logger)
//	_ = d.RegisterHandler(ctx, handler)
//	_ = bus.Subscribe(ctx, d.EventTypes(), d.Dispatch)
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[events.EventType]EventHandler

	tracer trace.Tracer
	logger *logger.Logger
}

// New constructs a Dispatcher with an empty registry.
func New(tracer trace.Tracer, logger *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[events.EventType]EventHandler),
		tracer:   tracer,
		logger:   logger.With("component", "event_dispatcher"),
	}
}

// RegisterHandler associates h with each of its supported event types. It
// fails without registering anything when one of them already has a
// handler.
func (d *Dispatcher) RegisterHandler(ctx context.Context, h EventHandler) error {
	_, span := d.tracer.Start(ctx, "event_dispatcher.register_handler",
		trace.WithAttributes(attribute.String("handler_type", fmt.Sprintf("%T", h))))
	defer span.End()

	supported := h.SupportedEvents()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range supported {
		if existing, ok := d.handlers[t]; ok {
			err := &HandlerAlreadyRegisteredError{EventType: t, Existing: fmt.Sprintf("%T", existing)}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	for _, t := range supported {
		d.handlers[t] = h
	}

	d.logger.Debug(ctx, "handler registered", "handler_type", fmt.Sprintf("%T", h), "event_types", supported)
	return nil
}

// EventTypes returns the registered event types in a stable order.
func (d *Dispatcher) EventTypes() []events.EventType {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]events.EventType, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// HandlerAlreadyRegisteredError is returned when a second handler claims
// an event type.
type HandlerAlreadyRegisteredError struct {
	EventType events.EventType
	Existing  string
}

func (e *HandlerAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("event type %s already handled by %s", e.EventType, e.Existing)
}

// HandlerNotFoundError is returned when an event has no registered handler.
type HandlerNotFoundError struct {
	EventType events.EventType
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for event type: %s", e.EventType)
}

// Dispatch hands evt to its handler. It has the signature of
// events.HandlerFunc so it can be passed straight to EventBus.Subscribe.
func (d *Dispatcher) Dispatch(ctx context.Context, evt events.EventEnvelope, ack events.AckFunc) error {
	ctx, span := d.tracer.Start(ctx, "event_dispatcher.handle_event",
		trace.WithAttributes(
			attribute.String("event_type", string(evt.Type)),
			attribute.String("event_key", evt.Key),
		))
	defer span.End()

	d.mu.RLock()
	handler, exists := d.handlers[evt.Type]
	d.mu.RUnlock()
	if !exists {
		err := &HandlerNotFoundError{EventType: evt.Type}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := handler.HandleEvent(ctx, evt, ack); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dispatch event for handler %T with event type %s: %w", handler, evt.Type, err)
	}

	span.SetStatus(codes.Ok, "event dispatched successfully")
	d.logger.Debug(ctx, "event dispatched", "event_type", evt.Type, "key", evt.Key)
	return nil
}
