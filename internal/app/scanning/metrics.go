package scanning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

// ScanMetrics defines metrics operations needed by the scan pipeline.
type ScanMetrics interface {
	IncScansStarted(ctx context.Context, frameworkID string)
	IncScansFinished(ctx context.Context, frameworkID string, status scanning.ScanStatus)
	ObserveScanDuration(ctx context.Context, frameworkID string, d time.Duration)
	IncEvaluations(ctx context.Context, frameworkID string)
	IncEvaluationFailures(ctx context.Context, frameworkID, reason string)
	ObserveEvaluationDuration(ctx context.Context, d time.Duration)
	IncFindings(ctx context.Context, frameworkID string, severity scanning.Severity)
	AddQueueDepth(ctx context.Context, delta int64)
}

type scanMetrics struct {
	scansStarted       metric.Int64Counter
	scansFinished      metric.Int64Counter
	scanDuration       metric.Float64Histogram
	evaluations        metric.Int64Counter
	evaluationFailures metric.Int64Counter
	evaluationDuration metric.Float64Histogram
	findings           metric.Int64Counter
	queueDepth         metric.Int64UpDownCounter
}

const namespace = "compliance_scanner"

// NewScanMetrics creates the pipeline instruments on mp.
func NewScanMetrics(mp metric.MeterProvider) (*scanMetrics, error) {
	meter := mp.Meter(namespace, metric.WithInstrumentationVersion("v0.1.0"))

	m := new(scanMetrics)
	var err error

	if m.scansStarted, err = meter.Int64Counter(
		"scans_started_total",
		metric.WithDescription("Total number of scans accepted"),
	); err != nil {
		return nil, err
	}

	if m.scansFinished, err = meter.Int64Counter(
		"scans_finished_total",
		metric.WithDescription("Total number of scans that reached a terminal status"),
	); err != nil {
		return nil, err
	}

	if m.scanDuration, err = meter.Float64Histogram(
		"scan_duration_seconds",
		metric.WithDescription("Wall time from scan creation to terminal status"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.evaluations, err = meter.Int64Counter(
		"rule_evaluations_total",
		metric.WithDescription("Total number of (chunk, rule) evaluations attempted"),
	); err != nil {
		return nil, err
	}

	if m.evaluationFailures, err = meter.Int64Counter(
		"rule_evaluation_failures_total",
		metric.WithDescription("Evaluations that produced no verdict and were treated as no gap"),
	); err != nil {
		return nil, err
	}

	if m.evaluationDuration, err = meter.Float64Histogram(
		"rule_evaluation_duration_seconds",
		metric.WithDescription("Latency of a single inference call"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	if m.findings, err = meter.Int64Counter(
		"findings_total",
		metric.WithDescription("Total number of findings recorded"),
	); err != nil {
		return nil, err
	}

	if m.queueDepth, err = meter.Int64UpDownCounter(
		"scan_queue_depth",
		metric.WithDescription("Scans waiting for a worker"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

func (m *scanMetrics) IncScansStarted(ctx context.Context, frameworkID string) {
	m.scansStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("framework", frameworkID)))
}

func (m *scanMetrics) IncScansFinished(ctx context.Context, frameworkID string, status scanning.ScanStatus) {
	m.scansFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("framework", frameworkID),
		attribute.String("status", status.String()),
	))
}

func (m *scanMetrics) ObserveScanDuration(ctx context.Context, frameworkID string, d time.Duration) {
	m.scanDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("framework", frameworkID)))
}

func (m *scanMetrics) IncEvaluations(ctx context.Context, frameworkID string) {
	m.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("framework", frameworkID)))
}

func (m *scanMetrics) IncEvaluationFailures(ctx context.Context, frameworkID, reason string) {
	m.evaluationFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("framework", frameworkID),
		attribute.String("reason", reason),
	))
}

func (m *scanMetrics) ObserveEvaluationDuration(ctx context.Context, d time.Duration) {
	m.evaluationDuration.Record(ctx, d.Seconds())
}

func (m *scanMetrics) IncFindings(ctx context.Context, frameworkID string, severity scanning.Severity) {
	m.findings.Add(ctx, 1, metric.WithAttributes(
		attribute.String("framework", frameworkID),
		attribute.String("severity", severity.String()),
	))
}

func (m *scanMetrics) AddQueueDepth(ctx context.Context, delta int64) {
	m.queueDepth.Add(ctx, delta)
}
