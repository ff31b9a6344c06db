package scanning

import (
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

// SeverityGroup holds the findings of one severity in discovery order.
type SeverityGroup struct {
	Severity scanning.Severity
	Findings []scanning.Finding
}

// ReportSummary carries the display statistics of a report.
type ReportSummary struct {
	Total      int
	BySeverity map[scanning.Severity]int
}

// Report is a read-only projection of a scan grouped by severity.
type Report struct {
	ScanID        uuid.UUID
	UserID        string
	FrameworkID   string
	FrameworkName string
	DocumentName  string
	Status        scanning.ScanStatus
	FailureReason string
	CreatedAt     time.Time
	CompletedAt   time.Time
	Summary       ReportSummary
	// Groups always lists high, medium and low in that order, empty groups
	// included.
	Groups []SeverityGroup
}

// ReportAggregator projects scans into reports.
type ReportAggregator struct{}

// NewReportAggregator returns a ReportAggregator.
func NewReportAggregator() ReportAggregator { return ReportAggregator{} }

// BuildReport groups the scan's findings by severity. A scan that is not
// completed yields a report with the scan metadata and empty groups.
func (ReportAggregator) BuildReport(scan *scanning.Scan) Report {
	r := Report{
		ScanID:        scan.ScanID(),
		UserID:        scan.UserID(),
		FrameworkID:   scan.FrameworkID(),
		FrameworkName: scan.FrameworkName(),
		DocumentName:  scan.DocumentName(),
		Status:        scan.Status(),
		FailureReason: scan.FailureReason(),
		CreatedAt:     scan.CreatedAt(),
		Summary: ReportSummary{
			BySeverity: make(map[scanning.Severity]int, len(scanning.Severities)),
		},
	}
	if t, ok := scan.CompletedAt(); ok {
		r.CompletedAt = t
	}

	idx := make(map[scanning.Severity]int, len(scanning.Severities))
	for i, sev := range scanning.Severities {
		r.Groups = append(r.Groups, SeverityGroup{Severity: sev, Findings: []scanning.Finding{}})
		r.Summary.BySeverity[sev] = 0
		idx[sev] = i
	}

	if scan.Status() != scanning.ScanStatusCompleted {
		return r
	}

	for _, f := range scan.Findings() {
		i, ok := idx[f.Severity()]
		if !ok {
			continue
		}
		r.Groups[i].Findings = append(r.Groups[i].Findings, f)
		r.Summary.BySeverity[f.Severity()]++
		r.Summary.Total++
	}

	return r
}
