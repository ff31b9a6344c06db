package tracing

import (
	"context"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/events"
)

// StartProducerSpan starts a producer span for publishing evt to topic.
func StartProducerSpan(ctx context.Context, tracer trace.Tracer, topic string, evt events.EventEnvelope) (context.Context, trace.Span) {
	return tracer.Start(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(topic),
			semconv.MessagingOperationPublish,
			semconv.MessagingKafkaMessageKey(evt.Key),
			attribute.String("event.type", string(evt.Type)),
		),
	)
}

// StartConsumerSpan starts a consumer span for a message delivered to
// groupID. ctx should already carry the producer's span context.
func StartConsumerSpan(ctx context.Context, tracer trace.Tracer, groupID string, msg *sarama.ConsumerMessage) (context.Context, trace.Span) {
	return tracer.Start(ctx, msg.Topic+" receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingDestinationName(msg.Topic),
			semconv.MessagingOperationReceive,
			semconv.MessagingKafkaConsumerGroup(groupID),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			semconv.MessagingKafkaDestinationPartition(int(msg.Partition)),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
		),
	)
}
