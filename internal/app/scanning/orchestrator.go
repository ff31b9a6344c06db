package scanning

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

var (
	// ErrOrchestratorStopped is returned by Submit once Run has exited.
	ErrOrchestratorStopped = errors.New("scan orchestrator stopped")

	// ErrScanNotCancellable is returned when cancelling a scan that is
	// terminal or not owned by this orchestrator.
	ErrScanNotCancellable = errors.New("scan cannot be cancelled")
)

// ScanRequest asks for a document to be scanned against a framework.
// Exactly one of Content or DocumentRef is used; DocumentRef is resolved
// through the orchestrator's document store by the worker.
type ScanRequest struct {
	UserID       string
	FrameworkID  string
	DocumentName string
	Content      []byte
	DocumentRef  string
}

// OrchestratorConfig tunes the worker pool.
type OrchestratorConfig struct {
	// Workers is the number of scans executed concurrently.
	Workers int
	// PairConcurrency bounds in-flight inference calls per scan.
	PairConcurrency int
	// QueueSize is the number of accepted scans waiting for a worker.
	QueueSize int
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.PairConcurrency <= 0 {
		c.PairConcurrency = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 10
	}
	return c
}

type scanJob struct {
	scan *scanning.Scan
	req  ScanRequest
}

// runState tracks a submitted scan until it is terminal.
type runState struct {
	cancel          context.CancelFunc
	cancelRequested bool
}

// ScanOrchestrator owns the lifecycle of every scan: it creates scans in
// processing status, runs them on a worker pool detached from the caller,
// and records the terminal status. The Scan record in the repository is the
// single source of truth for progress; lifecycle events are published for
// push consumers.
type ScanOrchestrator struct {
	frameworks rules.FrameworkRepository
	scans      scanning.ScanRepository
	documents  document.Store
	chunker    document.Chunker
	evaluator  *RuleEvaluator
	redactor   scanning.ExcerptRedactor
	publisher  events.DomainEventPublisher

	cfg   OrchestratorConfig
	queue chan scanJob

	mu      sync.Mutex
	running map[uuid.UUID]*runState

	// stateMu guards stopped; Submit holds it shared while enqueueing so
	// Run never drains the queue under an in-flight Submit.
	stateMu sync.RWMutex
	stopped bool
	done    chan struct{}

	logger  *logger.Logger
	tracer  trace.Tracer
	metrics ScanMetrics
}

// NewScanOrchestrator creates a new orchestrator. documents and redactor
// may be nil.
func NewScanOrchestrator(
	cfg OrchestratorConfig,
	frameworks rules.FrameworkRepository,
	scans scanning.ScanRepository,
	documents document.Store,
	chunker document.Chunker,
	evaluator *RuleEvaluator,
	redactor scanning.ExcerptRedactor,
	publisher events.DomainEventPublisher,
	logger *logger.Logger,
	tracer trace.Tracer,
	metrics ScanMetrics,
) *ScanOrchestrator {
	cfg = cfg.withDefaults()
	return &ScanOrchestrator{
		frameworks: frameworks,
		scans:      scans,
		documents:  documents,
		chunker:    chunker,
		evaluator:  evaluator,
		redactor:   redactor,
		publisher:  publisher,
		cfg:        cfg,
		queue:      make(chan scanJob, cfg.QueueSize),
		running:    make(map[uuid.UUID]*runState),
		done:       make(chan struct{}),
		logger: logger.With(
			"component", "scan_orchestrator",
			"num_workers", cfg.Workers,
		),
		tracer:  tracer,
		metrics: metrics,
	}
}

// Submit creates a scan in processing status, persists it, and queues it for
// execution. The returned scan is a snapshot taken before any evaluation.
func (o *ScanOrchestrator) Submit(ctx context.Context, req ScanRequest) (*scanning.Scan, error) {
	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.submit",
		trace.WithAttributes(
			attribute.String("user_id", req.UserID),
			attribute.String("framework_id", req.FrameworkID),
			attribute.String("document_name", req.DocumentName),
		))
	defer span.End()

	// The framework name is denormalised onto the scan; an unknown framework
	// still gets a scan, which the worker then fails.
	var frameworkName string
	fw, err := o.frameworks.GetFramework(ctx, req.FrameworkID)
	switch {
	case err == nil:
		frameworkName = fw.Name
	case errors.Is(err, rules.ErrFrameworkNotFound):
		span.AddEvent("framework_not_found")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to look up framework")
		return nil, fmt.Errorf("failed to look up framework %s: %w", req.FrameworkID, err)
	}

	scan := scanning.NewScan(req.UserID, req.FrameworkID, frameworkName, req.DocumentName)
	span.SetAttributes(attribute.String("scan_id", scan.ScanID().String()))

	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	if o.stopped {
		span.SetStatus(codes.Error, "orchestrator stopped")
		return nil, ErrOrchestratorStopped
	}

	o.mu.Lock()
	o.running[scan.ScanID()] = &runState{}
	o.mu.Unlock()

	if err := o.scans.CreateScan(ctx, scan); err != nil {
		o.forget(scan.ScanID())
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create scan")
		return nil, fmt.Errorf("failed to create scan: %w", err)
	}

	o.metrics.IncScansStarted(ctx, req.FrameworkID)
	o.publish(ctx, scanning.NewScanCreatedEvent(scan), scan.ScanID())

	snapshot := scan.Clone()

	select {
	case o.queue <- scanJob{scan: scan, req: req}:
		o.metrics.AddQueueDepth(ctx, 1)
	case <-o.done:
		o.finalizeFailed(context.WithoutCancel(ctx), scan, "scanner shut down before the scan started")
		o.forget(scan.ScanID())
		return nil, ErrOrchestratorStopped
	case <-ctx.Done():
		// The caller gave up before the scan could be queued; do not leave
		// it in processing forever.
		o.finalizeFailed(context.WithoutCancel(ctx), scan, "scan could not be queued: "+ctx.Err().Error())
		o.forget(scan.ScanID())
		return nil, fmt.Errorf("failed to queue scan: %w", ctx.Err())
	}

	o.logger.Info(ctx, "scan queued",
		"scan_id", scan.ScanID(),
		"user_id", req.UserID,
		"framework_id", req.FrameworkID,
	)
	return snapshot, nil
}

// Run starts the worker pool and blocks until ctx is cancelled. Scans still
// queued at shutdown are marked failed. Run must be called at most once.
func (o *ScanOrchestrator) Run(ctx context.Context) error {
	o.logger.Info(ctx, "Running scan orchestrator", "pair_concurrency", o.cfg.PairConcurrency)

	var wg sync.WaitGroup
	wg.Add(o.cfg.Workers)
	for i := 0; i < o.cfg.Workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			o.workerLoop(ctx, workerID)
		}(i)
	}

	<-ctx.Done()
	o.logger.Info(ctx, "Stopping scan orchestrator")

	close(o.done)
	o.stateMu.Lock()
	o.stopped = true
	o.stateMu.Unlock()

	wg.Wait()
	o.drain()

	return ctx.Err()
}

func (o *ScanOrchestrator) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.queue:
			o.metrics.AddQueueDepth(ctx, -1)
			o.logger.Debug(ctx, "worker picked up scan", "worker_id", workerID, "scan_id", job.scan.ScanID())
			o.execute(ctx, job)
		}
	}
}

// drain fails every scan left in the queue after the workers stopped.
func (o *ScanOrchestrator) drain() {
	ctx := context.Background()
	for {
		select {
		case job := <-o.queue:
			o.metrics.AddQueueDepth(ctx, -1)
			o.finalizeFailed(ctx, job.scan, "scanner shut down before the scan started")
			o.releaseDocument(ctx, job.req)
			o.forget(job.scan.ScanID())
		default:
			return
		}
	}
}

// Cancel stops a queued or running scan. Pairs already in flight finish, no
// new pairs are scheduled, and the scan ends cancelled.
func (o *ScanOrchestrator) Cancel(ctx context.Context, scanID uuid.UUID) error {
	o.mu.Lock()
	st, ok := o.running[scanID]
	if ok {
		st.cancelRequested = true
		if st.cancel != nil {
			st.cancel()
		}
	}
	o.mu.Unlock()

	if ok {
		o.logger.Info(ctx, "scan cancellation requested", "scan_id", scanID)
		return nil
	}

	scan, err := o.scans.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: scan %s is %s", ErrScanNotCancellable, scanID, scan.Status())
}

// execute runs one scan to a terminal status. Panics inside the pipeline
// fail the scan instead of killing the worker.
func (o *ScanOrchestrator) execute(ctx context.Context, job scanJob) {
	scan := job.scan
	scanID := scan.ScanID()

	ctx, span := o.tracer.Start(ctx, "scan_orchestrator.execute",
		trace.WithAttributes(
			attribute.String("scan_id", scanID.String()),
			attribute.String("framework_id", scan.FrameworkID()),
		))
	defer span.End()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.mu.Lock()
	st, ok := o.running[scanID]
	if !ok {
		st = &runState{}
		o.running[scanID] = st
	}
	st.cancel = cancel
	cancelled := st.cancelRequested
	o.mu.Unlock()
	defer o.forget(scanID)

	// Store writes and events must survive scan cancellation.
	finalCtx := context.WithoutCancel(ctx)
	defer o.releaseDocument(finalCtx, job.req)

	if cancelled {
		o.finalizeCancelled(finalCtx, scan)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("scan pipeline panic: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			o.logger.Error(ctx, "scan pipeline panicked", "scan_id", scanID, "panic", r)
			o.finalizeFailed(finalCtx, scan, err.Error())
		}
	}()

	findings, err := o.run(scanCtx, scan, job.req)
	switch {
	case o.cancelRequested(scanID):
		span.AddEvent("scan_cancelled")
		o.finalizeCancelled(finalCtx, scan)
	case ctx.Err() != nil:
		o.finalizeFailed(finalCtx, scan, "scanner shut down during the scan")
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		o.finalizeFailed(finalCtx, scan, err.Error())
	default:
		o.finalizeCompleted(finalCtx, scan, findings)
	}
}

// run resolves rules, chunks the document and evaluates every pair. It
// returns an error only for scan-level failures.
func (o *ScanOrchestrator) run(ctx context.Context, scan *scanning.Scan, req ScanRequest) ([]scanning.Finding, error) {
	ruleSet, err := o.frameworks.GetRulesForFramework(ctx, scan.FrameworkID())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve framework %q: %w", scan.FrameworkID(), err)
	}

	doc, err := o.loadDocument(ctx, req)
	if err != nil {
		return nil, err
	}

	chunks, err := o.chunker.Chunk(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to chunk document: %w", err)
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int("num_rules", len(ruleSet)),
		attribute.Int("num_chunks", len(chunks)),
	)

	return o.evaluatePairs(ctx, scan, chunks, ruleSet), nil
}

// releaseDocument deletes the stored upload of a scan that has ended.
func (o *ScanOrchestrator) releaseDocument(ctx context.Context, req ScanRequest) {
	if req.DocumentRef == "" || o.documents == nil {
		return
	}
	if err := o.documents.Delete(ctx, req.DocumentRef); err != nil {
		o.logger.Warn(ctx, "failed to delete document", "document_ref", req.DocumentRef, "error", err)
	}
}

func (o *ScanOrchestrator) loadDocument(ctx context.Context, req ScanRequest) (document.Document, error) {
	if req.DocumentRef == "" {
		return document.New(req.DocumentName, req.Content), nil
	}
	if o.documents == nil {
		return document.Document{}, errors.New("document reference given but no document store configured")
	}
	doc, err := o.documents.Fetch(ctx, req.DocumentRef)
	if err != nil {
		return document.Document{}, fmt.Errorf("failed to read document: %w", err)
	}
	return doc, nil
}

// evaluatePairs schedules pairs chunk-major with bounded parallelism. A
// single collector goroutine owns the findings slice.
func (o *ScanOrchestrator) evaluatePairs(
	ctx context.Context,
	scan *scanning.Scan,
	chunks []document.Chunk,
	ruleSet []rules.Rule,
) []scanning.Finding {
	results := make(chan scanning.Finding, o.cfg.PairConcurrency)
	var findings []scanning.Finding
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for f := range results {
			findings = append(findings, f)
		}
	}()

	var g errgroup.Group
	g.SetLimit(o.cfg.PairConcurrency)

schedule:
	for _, chunk := range chunks {
		chunk := chunk
		for _, rule := range ruleSet {
			rule := rule
			if ctx.Err() != nil {
				break schedule
			}
			g.Go(func() error {
				v := o.evaluator.Evaluate(ctx, scanning.EvaluationRequest{
					ScanID:     scan.ScanID(),
					Rule:       rule,
					ChunkIndex: chunk.Index,
					ChunkText:  chunk.Text,
				})
				if v.IsGap() {
					results <- scanning.NewFinding(scan.ScanID(), rule, chunk.Index, chunk.Text, v)
				}
				return nil
			})
		}
	}

	_ = g.Wait()
	close(results)
	<-collected

	return findings
}

func (o *ScanOrchestrator) finalizeCompleted(ctx context.Context, scan *scanning.Scan, findings []scanning.Finding) {
	if o.redactor != nil {
		for i, f := range findings {
			findings[i] = f.WithExcerpt(o.redactor.Redact(f.Excerpt()))
		}
	}

	if err := scan.Complete(findings); err != nil {
		o.logger.Error(ctx, "failed to complete scan", "scan_id", scan.ScanID(), "error", err)
		o.finalizeFailed(ctx, scan, err.Error())
		return
	}

	if !o.persist(ctx, scan) {
		o.failUnpersisted(ctx, scan, "failed to store scan results")
		return
	}
	for _, f := range scan.Findings() {
		o.metrics.IncFindings(ctx, scan.FrameworkID(), f.Severity())
	}
	o.recordFinished(ctx, scan)
	o.publish(ctx, scanning.NewScanCompletedEvent(scan), scan.ScanID())

	o.logger.Info(ctx, "scan completed",
		"scan_id", scan.ScanID(),
		"findings_count", scan.FindingsCount(),
		"duration", scan.GetTimeline().Duration(),
	)
}

func (o *ScanOrchestrator) finalizeFailed(ctx context.Context, scan *scanning.Scan, reason string) {
	if err := scan.Fail(reason); err != nil {
		o.logger.Error(ctx, "failed to mark scan failed", "scan_id", scan.ScanID(), "error", err)
		return
	}
	if !o.persist(ctx, scan) {
		return
	}
	o.recordFinished(ctx, scan)
	o.publish(ctx, scanning.NewScanFailedEvent(scan), scan.ScanID())

	o.logger.Warn(ctx, "scan failed", "scan_id", scan.ScanID(), "reason", reason)
}

func (o *ScanOrchestrator) finalizeCancelled(ctx context.Context, scan *scanning.Scan) {
	if err := scan.Cancel(); err != nil {
		o.logger.Error(ctx, "failed to mark scan cancelled", "scan_id", scan.ScanID(), "error", err)
		return
	}
	if !o.persist(ctx, scan) {
		o.failUnpersisted(ctx, scan, "failed to store scan cancellation")
		return
	}
	o.recordFinished(ctx, scan)
	o.publish(ctx, scanning.NewScanCancelledEvent(scan), scan.ScanID())

	o.logger.Info(ctx, "scan cancelled", "scan_id", scan.ScanID())
}

// failUnpersisted records a failure for a scan whose terminal write was
// rejected so the stored copy does not stay processing.
func (o *ScanOrchestrator) failUnpersisted(ctx context.Context, scan *scanning.Scan, reason string) {
	failed := scan.FailedCopy(reason)
	if !o.persist(ctx, failed) {
		return
	}
	o.recordFinished(ctx, failed)
	o.publish(ctx, scanning.NewScanFailedEvent(failed), failed.ScanID())

	o.logger.Warn(ctx, "scan failed", "scan_id", failed.ScanID(), "reason", reason)
}

func (o *ScanOrchestrator) persist(ctx context.Context, scan *scanning.Scan) bool {
	if err := o.scans.UpdateScan(ctx, scan); err != nil {
		o.logger.Error(ctx, "failed to persist scan",
			"scan_id", scan.ScanID(),
			"status", scan.Status(),
			"error", err,
		)
		return false
	}
	return true
}

func (o *ScanOrchestrator) recordFinished(ctx context.Context, scan *scanning.Scan) {
	o.metrics.IncScansFinished(ctx, scan.FrameworkID(), scan.Status())
	o.metrics.ObserveScanDuration(ctx, scan.FrameworkID(), scan.GetTimeline().Duration())
}

func (o *ScanOrchestrator) publish(ctx context.Context, evt events.DomainEvent, scanID uuid.UUID) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.PublishDomainEvent(ctx, evt, events.WithKey(scanID.String())); err != nil {
		o.logger.Error(ctx, "failed to publish scan event",
			"scan_id", scanID,
			"event_type", evt.EventType(),
			"error", err,
		)
	}
}

func (o *ScanOrchestrator) cancelRequested(scanID uuid.UUID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.running[scanID]
	return ok && st.cancelRequested
}

func (o *ScanOrchestrator) forget(scanID uuid.UUID) {
	o.mu.Lock()
	delete(o.running, scanID)
	o.mu.Unlock()
}
