package scanning

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Scan is one run of evaluating a document against a framework. It owns its
// findings; once terminal it is read-only.
type Scan struct {
	scanID        uuid.UUID
	userID        string
	frameworkID   string
	frameworkName string
	documentName  string
	status        ScanStatus
	findings      []Finding
	failureReason string
	timeline      *Timeline
}

// NewScan creates a scan in processing status.
func NewScan(userID, frameworkID, frameworkName, documentName string) *Scan {
	return newScan(userID, frameworkID, frameworkName, documentName, realTimeProvider{})
}

func newScan(userID, frameworkID, frameworkName, documentName string, tp TimeProvider) *Scan {
	return &Scan{
		scanID:        uuid.New(),
		userID:        userID,
		frameworkID:   frameworkID,
		frameworkName: frameworkName,
		documentName:  documentName,
		status:        ScanStatusProcessing,
		timeline:      NewTimeline(tp),
	}
}

// ReconstructScan creates a Scan from stored fields, bypassing creation invariants.
// This should only be used by repositories when loading from storage.
func ReconstructScan(
	scanID uuid.UUID,
	userID string,
	frameworkID string,
	frameworkName string,
	documentName string,
	status ScanStatus,
	findings []Finding,
	failureReason string,
	timeline *Timeline,
) *Scan {
	return &Scan{
		scanID:        scanID,
		userID:        userID,
		frameworkID:   frameworkID,
		frameworkName: frameworkName,
		documentName:  documentName,
		status:        status,
		findings:      findings,
		failureReason: failureReason,
		timeline:      timeline,
	}
}

func (s *Scan) ScanID() uuid.UUID { return s.scanID }
func (s *Scan) UserID() string { return s.userID }
func (s *Scan) FrameworkID() string { return s.frameworkID }
func (s *Scan) FrameworkName() string { return s.frameworkName }
func (s *Scan) DocumentName() string { return s.documentName }
func (s *Scan) Status() ScanStatus { return s.status }
func (s *Scan) FailureReason() string { return s.failureReason }
func (s *Scan) CreatedAt() time.Time { return s.timeline.CreatedAt() }
func (s *Scan) GetTimeline() *Timeline { return s.timeline }

// FindingsCount returns the number of findings attached to the scan.
func (s *Scan) FindingsCount() int { return len(s.findings) }

// Findings returns a copy of the scan's findings in discovery order.
func (s *Scan) Findings() []Finding {
	out := make([]Finding, len(s.findings))
	copy(out, s.findings)
	return out
}

// CompletedAt returns when the scan reached a terminal status.
func (s *Scan) CompletedAt() (time.Time, bool) {
	if !s.status.IsTerminal() {
		return time.Time{}, false
	}
	return s.timeline.CompletedAt(), true
}

// Complete attaches the findings and marks the scan completed. Every
// finding must belong to this scan.
func (s *Scan) Complete(findings []Finding) error {
	if err := s.status.ValidateTransition(ScanStatusCompleted); err != nil {
		return err
	}
	for _, f := range findings {
		if f.ScanID() != s.scanID {
			return fmt.Errorf("%w: finding %s references scan %s", ErrFindingScanMismatch, f.FindingID(), f.ScanID())
		}
	}

	s.findings = make([]Finding, len(findings))
	copy(s.findings, findings)
	s.transition(ScanStatusCompleted)
	return nil
}

// Fail marks the scan failed. A failed scan carries no findings.
func (s *Scan) Fail(reason string) error {
	if err := s.status.ValidateTransition(ScanStatusFailed); err != nil {
		return err
	}
	s.findings = nil
	s.failureReason = reason
	s.transition(ScanStatusFailed)
	return nil
}

// Cancel marks the scan cancelled. A cancelled scan carries no findings.
func (s *Scan) Cancel() error {
	if err := s.status.ValidateTransition(ScanStatusCancelled); err != nil {
		return err
	}
	s.findings = nil
	s.transition(ScanStatusCancelled)
	return nil
}

// FailedCopy returns a failed copy of s carrying reason. It lets a caller
// record a failure for a scan whose own terminal write was lost, whatever
// status s currently holds.
func (s *Scan) FailedCopy(reason string) *Scan {
	c := s.Clone()
	c.findings = nil
	c.failureReason = reason
	c.transition(ScanStatusFailed)
	return c
}

func (s *Scan) transition(target ScanStatus) {
	s.status = target
	s.timeline.MarkCompleted()
}

// Clone returns a deep copy so stores can hand out snapshots that callers
// cannot mutate.
func (s *Scan) Clone() *Scan {
	c := *s
	c.findings = s.Findings()
	tl := *s.timeline
	c.timeline = &tl
	return &c
}
