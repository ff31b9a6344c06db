package tracing

import (
	"context"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/events"
)

func TestProducerAndConsumerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")

	ctx, producer := StartProducerSpan(context.Background(), tracer, "scan-events",
		events.EventEnvelope{Type: "ScanCompleted", Key: "scan-1"})
	producer.End()

	_, consumer := StartConsumerSpan(ctx, tracer, "compliance-armada", &sarama.ConsumerMessage{
		Topic: "scan-events", Key: []byte("scan-1"), Partition: 2, Offset: 41,
	})
	consumer.End()

	ended := recorder.Ended()
	require.Len(t, ended, 2)

	assert.Equal(t, "scan-events publish", ended[0].Name())
	assert.Equal(t, trace.SpanKindProducer, ended[0].SpanKind())
	assert.Contains(t, ended[0].Attributes(), semconv.MessagingKafkaMessageKey("scan-1"))

	assert.Equal(t, "scan-events receive", ended[1].Name())
	assert.Equal(t, trace.SpanKindConsumer, ended[1].SpanKind())
	assert.Contains(t, ended[1].Attributes(), semconv.MessagingKafkaConsumerGroup("compliance-armada"))
	assert.Contains(t, ended[1].Attributes(), semconv.MessagingKafkaMessageOffset(41))
	assert.Equal(t, ended[0].SpanContext().TraceID(), ended[1].SpanContext().TraceID())
}
