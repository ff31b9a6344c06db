// Package kafka provides a Kafka-based implementation of the event bus for
// scan lifecycle notifications.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus/kafka/tracing"
	"github.com/ahrav/compliance-armada/internal/infra/eventbus/serialization"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// Config contains settings for connecting to and interacting with Kafka brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string
	// ScanEventsTopic receives every scan lifecycle event.
	ScanEventsTopic string
	// GroupID identifies the consumer group for this bus instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements events.EventBus using Kafka as the underlying broker.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup
	// client is set when the bus owns the connection it was built from.
	client sarama.Client

	// Maps domain event types to their Kafka topics.
	topicMap map[events.EventType]string

	groupID        string
	commitInterval time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics eventbus.Metrics
}

// NewEventBus wires a bus around an existing producer and consumer group.
func NewEventBus(
	producer sarama.SyncProducer,
	consumerGroup sarama.ConsumerGroup,
	cfg *Config,
	logger *logger.Logger,
	metrics eventbus.Metrics,
	tracer trace.Tracer,
) (*EventBus, error) {
	if metrics == nil {
		return nil, errors.New("metrics are required for kafka event bus")
	}
	if cfg.ScanEventsTopic == "" {
		return nil, errors.New("scan events topic is required")
	}

	topicMap := make(map[events.EventType]string, len(scanning.ScanEventTypes))
	for _, et := range scanning.ScanEventTypes {
		topicMap[et] = cfg.ScanEventsTopic
	}

	return &EventBus{
		producer:       producer,
		consumerGroup:  consumerGroup,
		topicMap:       topicMap,
		groupID:        cfg.GroupID,
		commitInterval: time.Second,
		logger: logger.With(
			"component", "kafka_event_bus",
			"client_id", cfg.ClientID,
			"group_id", cfg.GroupID,
		),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// Publish sends a domain event to the topic mapped for its type, keyed so
// that events of one scan stay ordered within a partition.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	topic, ok := b.topicMap[event.Type]
	if !ok {
		return fmt.Errorf("unknown event type '%s', no topic mapped", event.Type)
	}

	params := events.ApplyOptions(opts...)
	if params.Key != "" {
		event.Key = params.Key
	}
	if params.Headers != nil {
		event.Headers = params.Headers
	}

	ctx, span := tracing.StartProducerSpan(ctx, b.tracer, topic, event)
	defer span.End()

	msgBytes, err := serialization.MarshalEnvelope(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to serialize event")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to serialize payload for event %s: %w", event.Type, err)
	}

	kafkaMsg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.Key),
		Value: sarama.ByteEncoder(msgBytes),
	}
	tracing.InjectTraceContext(ctx, kafkaMsg)

	partition, offset, err := b.producer.SendMessage(kafkaMsg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send message")
		b.metrics.IncPublishError(ctx, topic)
		return fmt.Errorf("failed to send message to kafka topic %s: %w", topic, err)
	}
	b.metrics.IncMessagePublished(ctx, topic)

	b.logger.Debug(ctx, "Published message to Kafka",
		"topic", topic,
		"partition", partition,
		"offset", offset,
		"key", event.Key,
	)

	return nil
}

// Subscribe starts a consumer group session for the topics of eventTypes
// and hands matching envelopes to handler until ctx is done.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	_, span := b.tracer.Start(ctx, "kafka_event_bus.subscribe",
		trace.WithAttributes(attribute.String("component", "kafka_event_bus")))
	defer span.End()

	if handler == nil {
		return errors.New("handler cannot be nil")
	}

	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	topicSet := make(map[string]struct{})
	var topics []string
	for _, et := range eventTypes {
		topic, ok := b.topicMap[et]
		if !ok {
			err := fmt.Errorf("subscribe: unknown event type %s", et)
			span.RecordError(err)
			span.SetStatus(codes.Error, "unknown event type")
			return err
		}
		wanted[et] = struct{}{}
		if _, seen := topicSet[topic]; !seen {
			topicSet[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	span.AddEvent("topics_collected", trace.WithAttributes(attribute.StringSlice("topics", topics)))

	cgHandler := &domainEventHandler{
		wanted:         wanted,
		userHandler:    handler,
		groupID:        b.groupID,
		commitInterval: b.commitInterval,
		logger:         b.logger,
		tracer:         b.tracer,
		metrics:        b.metrics,
	}
	go b.consumeLoop(ctx, topics, cgHandler)
	b.logger.Info(ctx, "Subscribed to events", "event_types", eventTypes, "topics", topics)

	return nil
}

// consumeLoop rejoins the consumer group after every rebalance until ctx is done.
func (b *EventBus) consumeLoop(ctx context.Context, topics []string, h sarama.ConsumerGroupHandler) {
	for {
		if err := b.consumerGroup.Consume(ctx, topics, h); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			b.logger.Error(ctx, "Error from consumer group", "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// domainEventHandler implements sarama.ConsumerGroupHandler, turning Kafka
// messages into envelopes for the subscriber.
type domainEventHandler struct {
	wanted      map[events.EventType]struct{}
	userHandler events.HandlerFunc

	groupID        string
	commitInterval time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics eventbus.Metrics
}

func (h *domainEventHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session setup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

func (h *domainEventHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.Info(sess.Context(), "Consumer group session cleanup",
		"generation_id", sess.GenerationID(),
		"member_id", sess.MemberID(),
	)
	return nil
}

// ConsumeClaim processes messages from an assigned partition. Messages that
// cannot be decoded, or whose type the subscriber did not ask for, are
// marked and skipped.
func (h *domainEventHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	consumeLogger := h.logger.With("operation", "consume_claim", "partition", claim.Partition())
	consumeLogger.Info(sess.Context(), "Starting to consume from partition", "member_id", sess.MemberID())

	lastCommit := time.Now()
	for msg := range claim.Messages() {
		h.handleMessage(sess, msg, consumeLogger, &lastCommit)
	}

	sess.Commit()
	return nil
}

func (h *domainEventHandler) handleMessage(
	sess sarama.ConsumerGroupSession,
	msg *sarama.ConsumerMessage,
	log *logger.Logger,
	lastCommit *time.Time,
) {
	msgCtx := tracing.ExtractTraceContext(sess.Context(), msg)
	msgCtx, span := tracing.StartConsumerSpan(msgCtx, h.tracer, h.groupID, msg)
	defer span.End()

	evt, err := serialization.UnmarshalEnvelope(msg.Value)
	if err != nil {
		log.Warn(msgCtx, "Dropping undecodable message", "offset", msg.Offset, "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to decode message")
		h.metrics.IncConsumeError(msgCtx, msg.Topic)
		sess.MarkMessage(msg, "")
		return
	}
	if _, ok := h.wanted[evt.Type]; !ok {
		sess.MarkMessage(msg, "")
		return
	}
	if evt.Key == "" {
		evt.Key = string(msg.Key)
	}

	log.Debug(msgCtx, "Received Kafka message",
		"topic", msg.Topic,
		"offset", msg.Offset,
		"event_type", evt.Type,
		"key", evt.Key,
	)

	ack := func(err error) {
		if err != nil {
			log.Error(msgCtx, "Failed to acknowledge message", "error", err)
			h.metrics.IncConsumeError(msgCtx, msg.Topic)
			span.RecordError(err)
			return
		}
		h.metrics.IncMessageConsumed(msgCtx, msg.Topic)
		sess.MarkMessage(msg, "")

		if time.Since(*lastCommit) > h.commitInterval {
			sess.Commit()
			*lastCommit = time.Now()
		}
	}

	if err := h.userHandler(msgCtx, evt, ack); err != nil {
		log.Error(msgCtx, "Failed to handle message", "error", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
	}
}

// Close shuts down the producer and the consumer group.
func (b *EventBus) Close() error {
	log := b.logger.With("operation", "close")
	ctx, span := b.tracer.Start(context.Background(), "kafka_event_bus.close")
	defer span.End()

	var errs []error
	if err := b.producer.Close(); err != nil {
		log.Error(ctx, "Failed to close producer", "error", err)
		errs = append(errs, fmt.Errorf("closing producer: %w", err))
	}
	if err := b.consumerGroup.Close(); err != nil {
		log.Error(ctx, "Failed to close consumer group", "error", err)
		errs = append(errs, fmt.Errorf("closing consumer group: %w", err))
	}
	if b.client != nil && !b.client.Closed() {
		if err := b.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing client: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to close event bus")
		return err
	}

	span.SetStatus(codes.Ok, "closed event bus")
	log.Info(ctx, "Closed event bus")
	return nil
}
