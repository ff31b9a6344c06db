// Package scanning provides the services that run document compliance
// scans: rule evaluation, orchestration of the scan lifecycle and report
// aggregation.
package scanning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// DefaultEvaluationTimeout bounds a single inference call when no timeout
// is configured.
const DefaultEvaluationTimeout = 30 * time.Second

// Evaluation failure reasons recorded on metrics and logs.
const (
	reasonTimeout   = "timeout"
	reasonMalformed = "malformed"
	reasonRemote    = "remote_error"
	reasonCancelled = "cancelled"
	reasonPanic     = "panic"
)

// errInferencePanic wraps a panic raised by the inference service.
var errInferencePanic = errors.New("inference service panicked")

// RuleEvaluator judges one (chunk, rule) pair through the inference
// service. It fails open: any error, timeout or malformed answer becomes a
// NoGap verdict so a single bad call never blocks the scan.
type RuleEvaluator struct {
	inference scanning.InferenceService
	timeout   time.Duration

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics ScanMetrics
}

// NewRuleEvaluator creates a RuleEvaluator. A non-positive timeout selects
// DefaultEvaluationTimeout.
func NewRuleEvaluator(
	inference scanning.InferenceService,
	timeout time.Duration,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics ScanMetrics,
) *RuleEvaluator {
	if timeout <= 0 {
		timeout = DefaultEvaluationTimeout
	}
	return &RuleEvaluator{
		inference: inference,
		timeout:   timeout,
		logger:    logger.With("component", "rule_evaluator"),
		tracer:    tracer,
		metrics:   metrics,
	}
}

// Evaluate returns the verdict for req. It never returns an error.
func (e *RuleEvaluator) Evaluate(ctx context.Context, req scanning.EvaluationRequest) scanning.Verdict {
	ctx, span := e.tracer.Start(ctx, "rule_evaluator.evaluate",
		trace.WithAttributes(
			attribute.String("scan_id", req.ScanID.String()),
			attribute.String("rule_id", req.Rule.ID),
			attribute.Int("chunk_index", req.ChunkIndex),
		))
	defer span.End()

	frameworkID := req.Rule.FrameworkID
	e.metrics.IncEvaluations(ctx, frameworkID)

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	verdict, err := e.callInference(callCtx, req)
	e.metrics.ObserveEvaluationDuration(ctx, time.Since(start))

	if err == nil && verdict.IsGap() {
		sev, ok := scanning.ParseSeverity(string(verdict.Severity()))
		if !ok {
			err = scanning.ErrMalformedVerdict
		} else {
			verdict = scanning.Gap(sev, verdict.Remediation())
		}
	}

	if err != nil {
		reason := failureReason(ctx, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		e.metrics.IncEvaluationFailures(ctx, frameworkID, reason)

		// Cancellation of the whole scan is expected; do not flood the logs.
		if reason != reasonCancelled {
			e.logger.Warn(ctx, "rule evaluation failed, treating as no gap",
				"scan_id", req.ScanID,
				"rule_id", req.Rule.ID,
				"chunk_index", req.ChunkIndex,
				"reason", reason,
				"error", err,
			)
		}
		return scanning.NoGap()
	}

	span.SetAttributes(attribute.Bool("gap", verdict.IsGap()))
	if verdict.IsGap() {
		span.SetAttributes(attribute.String("severity", verdict.Severity().String()))
	}
	return verdict
}

// callInference runs on a pair goroutine where a panic would take down the
// process, so it is converted to an error.
func (e *RuleEvaluator) callInference(ctx context.Context, req scanning.EvaluationRequest) (v scanning.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = scanning.Verdict{}, fmt.Errorf("%w: %v", errInferencePanic, r)
		}
	}()
	return e.inference.Evaluate(ctx, req)
}

func failureReason(parent context.Context, err error) string {
	switch {
	case errors.Is(err, errInferencePanic):
		return reasonPanic
	case parent.Err() != nil:
		return reasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return reasonTimeout
	case errors.Is(err, scanning.ErrMalformedVerdict):
		return reasonMalformed
	default:
		return reasonRemote
	}
}
