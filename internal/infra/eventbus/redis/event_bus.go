// Package redis provides an event bus backed by Redis pub/sub. Delivery is
// at-most-once: subscribers that are not connected miss events.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// Config contains the Redis connection settings and the channel scan
// events are published on.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewClient creates a go-redis client from cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus over a single Redis channel.
type EventBus struct {
	client  redis.UniversalClient
	channel string

	mu      sync.Mutex
	subs    []*redis.PubSub
	closed  bool
	closeWG sync.WaitGroup

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics eventbus.Metrics
}

// NewEventBus creates a bus publishing on channel. The bus takes ownership
// of client and closes it on Close.
func NewEventBus(
	client redis.UniversalClient,
	channel string,
	logger *logger.Logger,
	metrics eventbus.Metrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}
	if metrics == nil {
		return nil, errors.New("metrics are required for redis event bus")
	}
	return &EventBus{
		client:  client,
		channel: channel,
		logger:  logger.With("component", "redis_event_bus", "channel", channel),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// Publish encodes the envelope, carrying the trace context in its headers,
// and publishes it on the bus channel.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	ctx, span := b.tracer.Start(ctx, "redis.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.destination.name", b.channel),
			attribute.String("event.type", string(event.Type)),
		))
	defer span.End()

	if !serialization.Registered(event.Type) {
		err := fmt.Errorf("unknown event type '%s'", event.Type)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unknown event type")
		return err
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	headers := make(map[string]string, len(event.Headers)+len(params.Headers)+2)
	for k, v := range event.Headers {
		headers[k] = v
	}
	for k, v := range params.Headers {
		headers[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(headers))
	event.Headers = headers

	data, err := serialization.MarshalEnvelope(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize event")
		b.metrics.IncPublishError(ctx, b.channel)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	receivers, err := b.client.Publish(ctx, b.channel, data).Result()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to publish")
		b.metrics.IncPublishError(ctx, b.channel)
		return fmt.Errorf("failed to publish to redis channel %s: %w", b.channel, err)
	}
	b.metrics.IncMessagePublished(ctx, b.channel)

	b.logger.Debug(ctx, "Published message to Redis", "event_type", event.Type, "key", event.Key, "receivers", receivers)
	return nil
}

// Subscribe listens on the bus channel and hands envelopes of eventTypes
// to handler until ctx is done or the bus is closed. The subscription is
// confirmed by the server before Subscribe returns.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	for _, et := range eventTypes {
		if !serialization.Registered(et) {
			return fmt.Errorf("subscribe: unknown event type %s", et)
		}
		wanted[et] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("event bus closed")
	}
	pubsub := b.client.Subscribe(ctx, b.channel)
	b.subs = append(b.subs, pubsub)
	b.closeWG.Add(1)
	b.mu.Unlock()

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		b.closeWG.Done()
		return fmt.Errorf("subscribing to redis channel %s: %w", b.channel, err)
	}

	go func() {
		defer b.closeWG.Done()
		defer pubsub.Close()
		b.receiveLoop(ctx, pubsub.Channel(), wanted, handler)
	}()

	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes)
	return nil
}

func (b *EventBus) receiveLoop(
	ctx context.Context,
	ch <-chan *redis.Message,
	wanted map[events.EventType]struct{},
	handler events.HandlerFunc,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleMessage(ctx, msg, wanted, handler)
		}
	}
}

func (b *EventBus) handleMessage(
	ctx context.Context,
	msg *redis.Message,
	wanted map[events.EventType]struct{},
	handler events.HandlerFunc,
) {
	evt, err := serialization.UnmarshalEnvelope([]byte(msg.Payload))
	if err != nil {
		b.logger.Warn(ctx, "Dropping undecodable message", "error", err)
		b.metrics.IncConsumeError(ctx, b.channel)
		return
	}
	if _, ok := wanted[evt.Type]; !ok {
		return
	}

	msgCtx := otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(evt.Headers))
	msgCtx, span := b.tracer.Start(msgCtx, "redis.receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "redis"),
			attribute.String("messaging.destination.name", b.channel),
			attribute.String("event.type", string(evt.Type)),
		))
	defer span.End()

	ack := func(err error) {
		if err != nil {
			b.metrics.IncConsumeError(msgCtx, b.channel)
			span.RecordError(err)
			return
		}
		b.metrics.IncMessageConsumed(msgCtx, b.channel)
	}

	if err := handler(msgCtx, evt, ack); err != nil {
		b.logger.Error(msgCtx, "Failed to handle message", "event_type", evt.Type, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
	}
}

// Close ends every subscription and closes the client.
func (b *EventBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			errs = append(errs, err)
		}
	}
	b.closeWG.Wait()

	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing redis client: %w", err))
	}
	return errors.Join(errs...)
}
