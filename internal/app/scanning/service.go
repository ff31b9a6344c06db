package scanning

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/compliance-armada/internal/domain/document"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	"github.com/ahrav/compliance-armada/internal/domain/scanning"
	"github.com/ahrav/compliance-armada/pkg/common/logger"
)

// StartScanCommand carries an uploaded document to be scanned.
type StartScanCommand struct {
	UserID       string
	FrameworkID  string
	DocumentName string
	Content      []byte
}

// ScanService is the entry point used by the API and CLI. It stores the
// upload, hands the scan to the orchestrator and serves read models.
type ScanService struct {
	frameworks   rules.FrameworkRepository
	scans        scanning.ScanRepository
	documents    document.Store
	orchestrator *ScanOrchestrator
	reports      ReportAggregator

	logger *logger.Logger
	tracer trace.Tracer
}

// NewScanService creates a ScanService. When documents is nil the upload
// travels to the worker in memory.
func NewScanService(
	frameworks rules.FrameworkRepository,
	scans scanning.ScanRepository,
	documents document.Store,
	orchestrator *ScanOrchestrator,
	logger *logger.Logger,
	tracer trace.Tracer,
) *ScanService {
	return &ScanService{
		frameworks:   frameworks,
		scans:        scans,
		documents:    documents,
		orchestrator: orchestrator,
		reports:      NewReportAggregator(),
		logger:       logger.With("component", "scan_service"),
		tracer:       tracer,
	}
}

// StartScan accepts a document and returns the new scan in processing
// status. Evaluation continues in the background.
func (s *ScanService) StartScan(ctx context.Context, cmd StartScanCommand) (*scanning.Scan, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.start_scan",
		trace.WithAttributes(
			attribute.String("user_id", cmd.UserID),
			attribute.String("framework_id", cmd.FrameworkID),
			attribute.Int("document_size", len(cmd.Content)),
		))
	defer span.End()

	req := ScanRequest{
		UserID:       cmd.UserID,
		FrameworkID:  cmd.FrameworkID,
		DocumentName: cmd.DocumentName,
	}

	if s.documents != nil {
		ref, err := s.documents.Put(ctx, cmd.DocumentName, cmd.Content)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to store document")
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
		req.DocumentRef = ref
		span.SetAttributes(attribute.String("document_ref", ref))
	} else {
		req.Content = cmd.Content
	}

	scan, err := s.orchestrator.Submit(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to submit scan")
		if req.DocumentRef != "" {
			if derr := s.documents.Delete(context.WithoutCancel(ctx), req.DocumentRef); derr != nil {
				s.logger.Warn(ctx, "failed to delete document of rejected scan", "document_ref", req.DocumentRef, "error", derr)
			}
		}
		return nil, err
	}
	return scan, nil
}

// GetScan returns a scan with its findings.
func (s *ScanService) GetScan(ctx context.Context, scanID uuid.UUID) (*scanning.Scan, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.get_scan",
		trace.WithAttributes(attribute.String("scan_id", scanID.String())))
	defer span.End()

	scan, err := s.scans.GetScan(ctx, scanID)
	if err != nil {
		if !errors.Is(err, scanning.ErrScanNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to get scan")
		}
		return nil, err
	}
	return scan, nil
}

// ListScans returns the user's scans, newest first.
func (s *ScanService) ListScans(ctx context.Context, userID string) ([]*scanning.Scan, error) {
	ctx, span := s.tracer.Start(ctx, "scan_service.list_scans",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	scans, err := s.scans.ListScansByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list scans")
		return nil, err
	}
	return scans, nil
}

// GetReport returns the severity-grouped report of a scan. Scans that have
// not completed produce a report with no findings.
func (s *ScanService) GetReport(ctx context.Context, scanID uuid.UUID) (Report, error) {
	scan, err := s.GetScan(ctx, scanID)
	if err != nil {
		return Report{}, err
	}
	return s.reports.BuildReport(scan), nil
}

// CancelScan requests cancellation of a processing scan.
func (s *ScanService) CancelScan(ctx context.Context, scanID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "scan_service.cancel_scan",
		trace.WithAttributes(attribute.String("scan_id", scanID.String())))
	defer span.End()

	if err := s.orchestrator.Cancel(ctx, scanID); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

// ListFrameworks returns the frameworks a scan can target.
func (s *ScanService) ListFrameworks(ctx context.Context) ([]rules.Framework, error) {
	return s.frameworks.ListFrameworks(ctx)
}

// GetFrameworkRules returns a framework and its rules.
func (s *ScanService) GetFrameworkRules(ctx context.Context, frameworkID string) (rules.Framework, []rules.Rule, error) {
	fw, err := s.frameworks.GetFramework(ctx, frameworkID)
	if err != nil {
		return rules.Framework{}, nil, err
	}
	rs, err := s.frameworks.GetRulesForFramework(ctx, frameworkID)
	if err != nil {
		return rules.Framework{}, nil, err
	}
	return fw, rs, nil
}

// ExportSARIF renders a completed scan's report as SARIF JSON.
func (s *ScanService) ExportSARIF(ctx context.Context, scanID uuid.UUID) ([]byte, error) {
	report, err := s.GetReport(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if report.Status != scanning.ScanStatusCompleted {
		return nil, fmt.Errorf("%w: scan %s is %s", scanning.ErrScanNotCompleted, scanID, report.Status)
	}
	return report.MarshalSARIF()
}
