package scanning

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	rulesmem "github.com/ahrav/compliance-armada/internal/infra/storage/rules/memory"
	scanmem "github.com/ahrav/compliance-armada/internal/infra/storage/scanning/memory"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

const testCatalog = `
frameworks:
  - id: gdpr
    name: GDPR
    rules:
      - id: art-5
        citation: Art. 5(1)(e)
        title: Storage limitation
        requirement: Personal data is kept no longer than necessary.
      - id: art-32
        citation: Art. 32
        title: Security of processing
        requirement: Personal data is encrypted at rest and in transit.
      - id: art-33
        citation: Art. 33
        title: Breach notification
        requirement: Breaches are reported within 72 hours.
  - id: empty
    name: Empty framework
`

// inferenceFunc adapts a function to scanning.InferenceService.
type inferenceFunc func(ctx context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error)

func (f inferenceFunc) Evaluate(ctx context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
	return f(ctx, req)
}

func noGapInference() inferenceFunc {
	return func(context.Context, scanning.EvaluationRequest) (scanning.Verdict, error) {
		return scanning.NoGap(), nil
	}
}

// mockDomainEventPublisher implements events.DomainEventPublisher for testing.
type mockDomainEventPublisher struct{ mock.Mock }

func (m *mockDomainEventPublisher) PublishDomainEvent(ctx context.Context, event events.DomainEvent, opts ...events.PublishOption) error {
	args := m.Called(ctx, event, opts)
	return args.Error(0)
}

// recordingPublisher keeps every published event in order.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.DomainEvent
}

func (p *recordingPublisher) PublishDomainEvent(_ context.Context, event events.DomainEvent, _ ...events.PublishOption) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) typesFor(scanID uuid.UUID) []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []events.EventType
	for _, e := range p.events {
		if evt, ok := e.(scanning.ScanStatusChangedEvent); ok && evt.ScanID == scanID {
			out = append(out, evt.EventType())
		}
	}
	return out
}

// mockScanMetrics implements ScanMetrics for testing.
type mockScanMetrics struct{ mock.Mock }

func newMockScanMetrics() *mockScanMetrics {
	m := new(mockScanMetrics)
	m.On("IncScansStarted", mock.Anything, mock.Anything).Maybe()
	m.On("IncScansFinished", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("ObserveScanDuration", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("IncEvaluations", mock.Anything, mock.Anything).Maybe()
	m.On("IncEvaluationFailures", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("ObserveEvaluationDuration", mock.Anything, mock.Anything).Maybe()
	m.On("IncFindings", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("AddQueueDepth", mock.Anything, mock.Anything).Maybe()
	return m
}

func (m *mockScanMetrics) IncScansStarted(ctx context.Context, frameworkID string) {
	m.Called(ctx, frameworkID)
}

func (m *mockScanMetrics) IncScansFinished(ctx context.Context, frameworkID string, status scanning.ScanStatus) {
	m.Called(ctx, frameworkID, status)
}

func (m *mockScanMetrics) ObserveScanDuration(ctx context.Context, frameworkID string, d time.Duration) {
	m.Called(ctx, frameworkID, d)
}

func (m *mockScanMetrics) IncEvaluations(ctx context.Context, frameworkID string) {
	m.Called(ctx, frameworkID)
}

func (m *mockScanMetrics) IncEvaluationFailures(ctx context.Context, frameworkID, reason string) {
	m.Called(ctx, frameworkID, reason)
}

func (m *mockScanMetrics) ObserveEvaluationDuration(ctx context.Context, d time.Duration) {
	m.Called(ctx, d)
}

func (m *mockScanMetrics) IncFindings(ctx context.Context, frameworkID string, severity scanning.Severity) {
	m.Called(ctx, frameworkID, severity)
}

func (m *mockScanMetrics) AddQueueDepth(ctx context.Context, delta int64) {
	m.Called(ctx, delta)
}

// upperRedactor masks the word "secret" so tests can observe redaction.
type upperRedactor struct{}

func (upperRedactor) Redact(s string) string { return strings.ReplaceAll(s, "secret", "REDACTED") }

// memoryDocuments is an in-test document.Store.
type memoryDocuments struct {
	mu   sync.Mutex
	docs map[string]document.Document
}

func (s *memoryDocuments) Put(_ context.Context, name string, content []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = make(map[string]document.Document)
	}
	ref := uuid.NewString()
	s.docs[ref] = document.New(name, content)
	return ref, nil
}

func (s *memoryDocuments) Delete(_ context.Context, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, ref)
	return nil
}

func (s *memoryDocuments) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func (s *memoryDocuments) Fetch(_ context.Context, ref string) (document.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[ref]
	if !ok {
		return document.Document{}, document.ErrDocumentNotFound
	}
	return doc, nil
}

type orchestratorFixture struct {
	orchestrator *ScanOrchestrator
	scans        *scanmem.ScanStore
	frameworks   *rulesmem.FrameworkStore
	publisher    *recordingPublisher
	metrics      *mockScanMetrics
	stop         context.CancelFunc
	stopped      chan struct{}
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	cfg       OrchestratorConfig
	timeout   time.Duration
	redactor  scanning.ExcerptRedactor
	documents document.Store
	noRun     bool
}

func withConfig(cfg OrchestratorConfig) fixtureOption {
	return func(c *fixtureConfig) { c.cfg = cfg }
}

func withEvaluationTimeout(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.timeout = d }
}

func withRedactor(r scanning.ExcerptRedactor) fixtureOption {
	return func(c *fixtureConfig) { c.redactor = r }
}

func withDocuments(s document.Store) fixtureOption {
	return func(c *fixtureConfig) { c.documents = s }
}

func withoutRun() fixtureOption {
	return func(c *fixtureConfig) { c.noRun = true }
}

func newOrchestratorFixture(t *testing.T, inference scanning.InferenceService, opts ...fixtureOption) *orchestratorFixture {
	t.Helper()

	fc := fixtureConfig{cfg: OrchestratorConfig{Workers: 2, PairConcurrency: 3}}
	for _, opt := range opts {
		opt(&fc)
	}

	catalog, err := rules.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	frameworks := rulesmem.NewFrameworkStore()
	require.NoError(t, frameworks.Seed(context.Background(), catalog))

	scans := scanmem.NewScanStore()
	publisher := new(recordingPublisher)
	metrics := newMockScanMetrics()
	tracer := noop.NewTracerProvider().Tracer("test")
	log := logger.Noop()

	evaluator := NewRuleEvaluator(inference, fc.timeout, log, tracer, metrics)
	orch := NewScanOrchestrator(
		fc.cfg,
		frameworks,
		scans,
		fc.documents,
		document.NewParagraphChunker(0),
		evaluator,
		fc.redactor,
		publisher,
		log,
		tracer,
		metrics,
	)

	ctx, cancel := context.WithCancel(context.Background())
	f := &orchestratorFixture{
		orchestrator: orch,
		scans:        scans,
		frameworks:   frameworks,
		publisher:    publisher,
		metrics:      metrics,
		stop:         cancel,
		stopped:      make(chan struct{}),
	}

	if fc.noRun {
		close(f.stopped)
		t.Cleanup(cancel)
		return f
	}

	go func() {
		defer close(f.stopped)
		_ = orch.Run(ctx)
	}()
	t.Cleanup(f.shutdown)

	return f
}

func (f *orchestratorFixture) shutdown() {
	f.stop()
	<-f.stopped
}

// waitForTerminal polls the store until the scan leaves processing.
func (f *orchestratorFixture) waitForTerminal(t *testing.T, scanID uuid.UUID) *scanning.Scan {
	t.Helper()

	var scan *scanning.Scan
	require.Eventually(t, func() bool {
		s, err := f.scans.GetScan(context.Background(), scanID)
		if err != nil {
			return false
		}
		scan = s
		return s.Status().IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return scan
}
