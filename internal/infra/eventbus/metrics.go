// Package eventbus holds what the event bus backends share.
package eventbus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics tracks messages flowing through a bus backend. The destination
// is the Kafka topic or Redis channel.
type Metrics interface {
	IncMessagePublished(ctx context.Context, destination string)
	IncMessageConsumed(ctx context.Context, destination string)
	IncPublishError(ctx context.Context, destination string)
	IncConsumeError(ctx context.Context, destination string)
}

type busMetrics struct {
	published     metric.Int64Counter
	consumed      metric.Int64Counter
	publishErrors metric.Int64Counter
	consumeErrors metric.Int64Counter
}

// NewMetrics creates the bus instruments on mp.
func NewMetrics(mp metric.MeterProvider) (Metrics, error) {
	meter := mp.Meter("compliance_event_bus", metric.WithInstrumentationVersion("v0.1.0"))

	m := new(busMetrics)
	var err error

	if m.published, err = meter.Int64Counter(
		"messages_published_total",
		metric.WithDescription("Total number of messages published"),
	); err != nil {
		return nil, err
	}

	if m.consumed, err = meter.Int64Counter(
		"messages_consumed_total",
		metric.WithDescription("Total number of messages handled and acknowledged"),
	); err != nil {
		return nil, err
	}

	if m.publishErrors, err = meter.Int64Counter(
		"publish_errors_total",
		metric.WithDescription("Total number of publish failures"),
	); err != nil {
		return nil, err
	}

	if m.consumeErrors, err = meter.Int64Counter(
		"consume_errors_total",
		metric.WithDescription("Total number of messages that could not be handled"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func destination(d string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("destination", d))
}

func (m *busMetrics) IncMessagePublished(ctx context.Context, d string) {
	m.published.Add(ctx, 1, destination(d))
}

func (m *busMetrics) IncMessageConsumed(ctx context.Context, d string) {
	m.consumed.Add(ctx, 1, destination(d))
}

func (m *busMetrics) IncPublishError(ctx context.Context, d string) {
	m.publishErrors.Add(ctx, 1, destination(d))
}

func (m *busMetrics) IncConsumeError(ctx context.Context, d string) {
	m.consumeErrors.Add(ctx, 1, destination(d))
}
