package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/compliance-armada/internal/domain/events"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

func TestScanOrchestrator_SingleChunkOneGap(t *testing.T) {
	t.Parallel()

	inference := inferenceFunc(func(_ context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
		if req.Rule.ID == "art-32" {
			return scanning.Gap(scanning.SeverityHigh, "Encrypt personal data at rest."), nil
		}
		return scanning.NoGap(), nil
	})
	f := newOrchestratorFixture(t, inference)

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:       "user-1",
		FrameworkID:  "gdpr",
		DocumentName: "policy.md",
		Content:      []byte("We store customer data in plain text."),
	})
	require.NoError(t, err)
	assert.Equal(t, scanning.ScanStatusProcessing, submitted.Status())
	assert.Equal(t, "GDPR", submitted.FrameworkName())
	assert.Zero(t, submitted.FindingsCount())

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	require.Equal(t, 1, scan.FindingsCount())

	finding := scan.Findings()[0]
	assert.Equal(t, "art-32", finding.Rule().ID)
	assert.Equal(t, scanning.SeverityHigh, finding.Severity())
	assert.Equal(t, 1, finding.ParagraphNumber())
	assert.Equal(t, "We store customer data in plain text.", finding.Excerpt())
	assert.Equal(t, "Encrypt personal data at rest.", finding.Remediation())
	assert.Equal(t, scan.ScanID(), finding.ScanID())
}

func TestScanOrchestrator_PairFailureDoesNotFailScan(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inference := inferenceFunc(func(_ context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
		calls.Add(1)
		if req.ChunkIndex == 2 && req.Rule.ID == "art-5" {
			return scanning.Verdict{}, errors.New("upstream unavailable")
		}
		return scanning.Gap(scanning.SeverityLow, "Clarify the policy."), nil
	})
	f := newOrchestratorFixture(t, inference)

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:       "user-1",
		FrameworkID:  "gdpr",
		DocumentName: "policy.md",
		Content:      []byte("First paragraph.\n\nSecond paragraph."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	assert.Equal(t, 5, scan.FindingsCount())
	assert.Equal(t, int32(6), calls.Load())

	for _, finding := range scan.Findings() {
		assert.False(t, finding.ParagraphNumber() == 2 && finding.Rule().ID == "art-5")
	}
	f.metrics.AssertCalled(t, "IncEvaluationFailures", mock.Anything, "gdpr", reasonRemote)
}

func TestScanOrchestrator_EmptyDocumentCompletes(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	inference := inferenceFunc(func(context.Context, scanning.EvaluationRequest) (scanning.Verdict, error) {
		calls.Add(1)
		return scanning.Gap(scanning.SeverityHigh, "x"), nil
	})
	f := newOrchestratorFixture(t, inference)

	for _, content := range []string{"", "  \n\n\t \n"} {
		submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
			UserID:       "user-1",
			FrameworkID:  "gdpr",
			DocumentName: "empty.md",
			Content:      []byte(content),
		})
		require.NoError(t, err)

		scan := f.waitForTerminal(t, submitted.ScanID())
		assert.Equal(t, scanning.ScanStatusCompleted, scan.Status())
		assert.Zero(t, scan.FindingsCount())
	}
	assert.Zero(t, calls.Load())
}

func TestScanOrchestrator_FrameworkWithoutRulesCompletes(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference())

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "empty",
		Content:     []byte("Some text."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	assert.Zero(t, scan.FindingsCount())
}

func TestScanOrchestrator_ScanLevelFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		req        ScanRequest
		wantReason string
	}{
		{
			name: "unknown framework",
			req: ScanRequest{
				UserID:      "user-1",
				FrameworkID: "pci-dss",
				Content:     []byte("Card numbers are stored."),
			},
			wantReason: "framework not found",
		},
		{
			name: "unreadable document",
			req: ScanRequest{
				UserID:      "user-1",
				FrameworkID: "gdpr",
				Content:     []byte{0xff, 0xfe, 0x00, 0x41},
			},
			wantReason: "not readable text",
		},
		{
			name: "missing document reference",
			req: ScanRequest{
				UserID:      "user-1",
				FrameworkID: "gdpr",
				DocumentRef: "does-not-exist",
			},
			wantReason: "document",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newOrchestratorFixture(t, noGapInference(), withDocuments(&memoryDocuments{}))

			submitted, err := f.orchestrator.Submit(context.Background(), tt.req)
			require.NoError(t, err)
			assert.Equal(t, scanning.ScanStatusProcessing, submitted.Status())

			scan := f.waitForTerminal(t, submitted.ScanID())
			assert.Equal(t, scanning.ScanStatusFailed, scan.Status())
			assert.Zero(t, scan.FindingsCount())
			assert.Contains(t, scan.FailureReason(), tt.wantReason)

			require.Eventually(t, func() bool {
				return len(f.publisher.typesFor(scan.ScanID())) == 2
			}, time.Second, 5*time.Millisecond)
			assert.Equal(t,
				[]events.EventType{scanning.EventTypeScanCreated, scanning.EventTypeScanFailed},
				f.publisher.typesFor(scan.ScanID()),
			)
		})
	}
}

func TestScanOrchestrator_DocumentFromStore(t *testing.T) {
	t.Parallel()

	docs := &memoryDocuments{}
	inference := inferenceFunc(func(_ context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
		if req.Rule.ID == "art-33" {
			return scanning.Gap(scanning.SeverityMedium, "Add a breach timeline."), nil
		}
		return scanning.NoGap(), nil
	})
	f := newOrchestratorFixture(t, inference, withDocuments(docs))

	ref, err := docs.Put(context.Background(), "incident.md", []byte("Incidents are handled ad hoc."))
	require.NoError(t, err)

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:       "user-1",
		FrameworkID:  "gdpr",
		DocumentName: "incident.md",
		DocumentRef:  ref,
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	require.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	require.Equal(t, 1, scan.FindingsCount())
	assert.Equal(t, scanning.SeverityMedium, scan.Findings()[0].Severity())

	require.Eventually(t, func() bool { return docs.len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScanOrchestrator_MalformedVerdictIsNoGap(t *testing.T) {
	t.Parallel()

	inference := inferenceFunc(func(_ context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
		switch req.Rule.ID {
		case "art-5":
			return scanning.Gap("critical", "Unknown severity."), nil
		case "art-32":
			return scanning.Verdict{}, fmt.Errorf("decode: %w", scanning.ErrMalformedVerdict)
		default:
			return scanning.Gap("HIGH", "Normalised."), nil
		}
	})
	f := newOrchestratorFixture(t, inference)

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	require.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	require.Equal(t, 1, scan.FindingsCount())
	assert.Equal(t, "art-33", scan.Findings()[0].Rule().ID)
	assert.Equal(t, scanning.SeverityHigh, scan.Findings()[0].Severity())
}

func TestScanOrchestrator_DiscoveryOrderWithSequentialPairs(t *testing.T) {
	t.Parallel()

	inference := inferenceFunc(func(context.Context, scanning.EvaluationRequest) (scanning.Verdict, error) {
		return scanning.Gap(scanning.SeverityLow, "Fix it."), nil
	})
	f := newOrchestratorFixture(t, inference, withConfig(OrchestratorConfig{Workers: 1, PairConcurrency: 1}))

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("One.\n\nTwo."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	require.Equal(t, 6, scan.FindingsCount())

	var got []string
	for _, finding := range scan.Findings() {
		got = append(got, fmt.Sprintf("%d:%s", finding.ParagraphNumber(), finding.Rule().ID))
	}
	assert.Equal(t, []string{"1:art-5", "1:art-32", "1:art-33", "2:art-5", "2:art-32", "2:art-33"}, got)
}

func TestScanOrchestrator_ConcurrentScansAreIsolated(t *testing.T) {
	t.Parallel()

	inference := inferenceFunc(func(_ context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
		time.Sleep(time.Millisecond)
		return scanning.Gap(scanning.SeverityMedium, "Fix "+req.ChunkText), nil
	})
	f := newOrchestratorFixture(t, inference, withConfig(OrchestratorConfig{Workers: 4, PairConcurrency: 4}))

	const numScans = 8
	ids := make([]uuid.UUID, numScans)
	var wg sync.WaitGroup
	for i := 0; i < numScans; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paragraphs := make([]string, i+1)
			for p := range paragraphs {
				paragraphs[p] = fmt.Sprintf("scan %d paragraph %d", i, p+1)
			}
			scan, err := f.orchestrator.Submit(context.Background(), ScanRequest{
				UserID:      fmt.Sprintf("user-%d", i),
				FrameworkID: "gdpr",
				Content:     []byte(strings.Join(paragraphs, "\n\n")),
			})
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = scan.ScanID()
		}(i)
	}
	wg.Wait()
	require.False(t, t.Failed())

	for i, id := range ids {
		scan := f.waitForTerminal(t, id)
		require.Equal(t, scanning.ScanStatusCompleted, scan.Status())
		assert.Equal(t, (i+1)*3, scan.FindingsCount(), "scan %d", i)

		prefix := fmt.Sprintf("scan %d ", i)
		for _, finding := range scan.Findings() {
			assert.Equal(t, id, finding.ScanID())
			assert.True(t, strings.HasPrefix(finding.Excerpt(), prefix))
		}
	}
}

func TestScanOrchestrator_CancelRunningScan(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var once sync.Once
	inference := inferenceFunc(func(ctx context.Context, _ scanning.EvaluationRequest) (scanning.Verdict, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return scanning.Verdict{}, ctx.Err()
	})
	f := newOrchestratorFixture(t, inference)

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph one.\n\nParagraph two."),
	})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("inference was never called")
	}

	require.NoError(t, f.orchestrator.Cancel(context.Background(), submitted.ScanID()))

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCancelled, scan.Status())
	assert.Zero(t, scan.FindingsCount())

	require.Eventually(t, func() bool {
		types := f.publisher.typesFor(scan.ScanID())
		return len(types) == 2 && types[1] == scanning.EventTypeScanCancelled
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		err := f.orchestrator.Cancel(context.Background(), submitted.ScanID())
		return errors.Is(err, ErrScanNotCancellable)
	}, time.Second, 5*time.Millisecond)
}

func TestScanOrchestrator_CancelUnknownScan(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference())

	err := f.orchestrator.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scanning.ErrScanNotFound)
}

func TestScanOrchestrator_CancelQueuedScan(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference(), withoutRun())

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)
	require.NoError(t, f.orchestrator.Cancel(context.Background(), submitted.ScanID()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.orchestrator.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCancelled, scan.Status())
}

func TestScanOrchestrator_RedactsExcerpts(t *testing.T) {
	t.Parallel()

	inference := inferenceFunc(func(context.Context, scanning.EvaluationRequest) (scanning.Verdict, error) {
		return scanning.Gap(scanning.SeverityHigh, "Rotate credentials."), nil
	})
	f := newOrchestratorFixture(t, inference, withRedactor(upperRedactor{}))

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("The admin secret is kept in the wiki."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	require.NotZero(t, scan.FindingsCount())
	for _, finding := range scan.Findings() {
		assert.Equal(t, "The admin REDACTED is kept in the wiki.", finding.Excerpt())
	}
}

func TestScanOrchestrator_EventsFollowLifecycle(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference())

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)
	f.waitForTerminal(t, submitted.ScanID())

	require.Eventually(t, func() bool {
		return len(f.publisher.typesFor(submitted.ScanID())) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t,
		[]events.EventType{scanning.EventTypeScanCreated, scanning.EventTypeScanCompleted},
		f.publisher.typesFor(submitted.ScanID()),
	)
}

func TestScanOrchestrator_PublishFailureDoesNotFailScan(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference(), withoutRun())

	publisher := new(mockDomainEventPublisher)
	publisher.On("PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("broker down"))
	f.orchestrator.publisher = publisher

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.orchestrator.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	publisher.AssertCalled(t, "PublishDomainEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestScanOrchestrator_SubmitAfterShutdown(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference())
	f.shutdown()

	_, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	assert.ErrorIs(t, err, ErrOrchestratorStopped)
}

func TestScanOrchestrator_ShutdownFailsQueuedScans(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference(), withoutRun())

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, f.orchestrator.Run(ctx), context.Canceled)

	// Whether a worker or the drain picked the scan up, it must not stay
	// processing.
	scan, err := f.scans.GetScan(context.Background(), submitted.ScanID())
	require.NoError(t, err)
	assert.Equal(t, scanning.ScanStatusFailed, scan.Status())
	assert.Contains(t, scan.FailureReason(), "shut down")
	assert.Zero(t, scan.FindingsCount())
}

// rejectingScanStore fails every UpdateScan that carries the given status.
type rejectingScanStore struct {
	scanning.ScanRepository
	reject scanning.ScanStatus
}

func (s *rejectingScanStore) UpdateScan(ctx context.Context, scan *scanning.Scan) error {
	if scan.Status() == s.reject {
		return errors.New("write conflict")
	}
	return s.ScanRepository.UpdateScan(ctx, scan)
}

func TestScanOrchestrator_UnstoredCompletionFailsScan(t *testing.T) {
	t.Parallel()
	f := newOrchestratorFixture(t, noGapInference(), withoutRun())
	f.orchestrator.scans = &rejectingScanStore{ScanRepository: f.scans, reject: scanning.ScanStatusCompleted}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = f.orchestrator.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusFailed, scan.Status())
	assert.Equal(t, "failed to store scan results", scan.FailureReason())
	assert.Zero(t, scan.FindingsCount())

	require.Eventually(t, func() bool {
		return len(f.publisher.typesFor(submitted.ScanID())) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t,
		[]events.EventType{scanning.EventTypeScanCreated, scanning.EventTypeScanFailed},
		f.publisher.typesFor(submitted.ScanID()),
	)
}

func TestScanOrchestrator_InferencePanicIsNoGap(t *testing.T) {
	t.Parallel()

	inference := inferenceFunc(func(_ context.Context, req scanning.EvaluationRequest) (scanning.Verdict, error) {
		if req.Rule.ID == "art-32" {
			panic("boom")
		}
		return scanning.Gap(scanning.SeverityLow, "Clarify the policy."), nil
	})
	f := newOrchestratorFixture(t, inference)

	submitted, err := f.orchestrator.Submit(context.Background(), ScanRequest{
		UserID:      "user-1",
		FrameworkID: "gdpr",
		Content:     []byte("Paragraph."),
	})
	require.NoError(t, err)

	scan := f.waitForTerminal(t, submitted.ScanID())
	assert.Equal(t, scanning.ScanStatusCompleted, scan.Status())
	assert.Equal(t, 2, scan.FindingsCount())
	for _, finding := range scan.Findings() {
		assert.NotEqual(t, "art-32", finding.Rule().ID)
	}
	f.metrics.AssertCalled(t, "IncEvaluationFailures", mock.Anything, "gdpr", reasonPanic)
}
