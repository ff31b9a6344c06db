// Package memory provides an in-process event bus. Delivery is synchronous
// and nothing is persisted, which suits tests and single-node deployments.
package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("event bus closed")

var _ events.EventBus = (*Bus)(nil)

type subscription struct {
	types   []events.EventType
	handler events.HandlerFunc
}

// Bus fans each published envelope out to every subscriber registered for
// its type. Subscriptions end when the context passed to Subscribe is done.
type Bus struct {
	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	closed bool

	logger *logger.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[uint64]subscription),
		logger: logger.With("component", "memory_event_bus"),
	}
}

// Publish delivers evt to the matching handlers in subscription order and
// returns their joined errors.
func (b *Bus) Publish(ctx context.Context, evt events.EventEnvelope, opts ...events.PublishOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		evt.Key = params.Key
	}
	if params.Headers != nil {
		evt.Headers = params.Headers
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	ids := make([]uint64, 0, len(b.subs))
	for id, sub := range b.subs {
		if slices.Contains(sub.types, evt.Type) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	handlers := make([]events.HandlerFunc, len(ids))
	for i, id := range ids {
		handlers[i] = b.subs[id].handler
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := ctx.Err(); err != nil {
			return err
		}
		ack := func(err error) {
			if err != nil {
				b.logger.Warn(ctx, "Subscriber rejected event", "event_type", evt.Type, "error", err)
			}
		}
		if err := h(ctx, evt, ack); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscribe registers handler for eventTypes until ctx is done.
func (b *Bus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	if len(eventTypes) == 0 {
		return errors.New("at least one event type is required")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBusClosed
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = subscription{types: slices.Clone(eventTypes), handler: handler}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()

	return nil
}

// Close drops every subscription. Later calls are no-ops.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	clear(b.subs)
	return nil
}
