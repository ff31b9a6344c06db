package scanning

import (
	"encoding/json"
	"time"

	scanapp "github.com/ahrav/compliance-armada/internal/app/scanning"
	"github.com/ahrav/compliance-armada/internal/domain/rules"
	scanDomain "github.com/ahrav/compliance-armada/internal/domain/scanning"
)

// startRequest is the JSON form of a scan upload.
type startRequest struct {
	UserID       string `json:"user_id" validate:"required,max=128"`
	FrameworkID  string `json:"framework_id" validate:"required,max=64"`
	DocumentName string `json:"document_name" validate:"max=255"`
	Content      string `json:"content"`
}

type startResponse struct {
	ScanID string `json:"scan_id"`
	Status string `json:"status"`
}

type findingResponse struct {
	FindingID       string `json:"finding_id"`
	RuleID          string `json:"rule_id"`
	Citation        string `json:"citation"`
	Title           string `json:"title"`
	Severity        string `json:"severity"`
	Excerpt         string `json:"excerpt"`
	Remediation     string `json:"remediation"`
	ParagraphNumber int    `json:"paragraph_number"`
}

type scanResponse struct {
	ScanID        string            `json:"scan_id"`
	UserID        string            `json:"user_id"`
	FrameworkID   string            `json:"framework_id"`
	FrameworkName string            `json:"framework_name"`
	DocumentName  string            `json:"document_name"`
	Status        string            `json:"status"`
	FailureReason string            `json:"failure_reason,omitempty"`
	FindingsCount int               `json:"findings_count"`
	CreatedAt     time.Time         `json:"created_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Findings      []findingResponse `json:"findings,omitempty"`
}

type scanListResponse struct {
	Scans []scanResponse `json:"scans"`
}

type severityGroupResponse struct {
	Severity string            `json:"severity"`
	Findings []findingResponse `json:"findings"`
}

type reportResponse struct {
	ScanID        string                  `json:"scan_id"`
	UserID        string                  `json:"user_id"`
	FrameworkID   string                  `json:"framework_id"`
	FrameworkName string                  `json:"framework_name"`
	DocumentName  string                  `json:"document_name"`
	Status        string                  `json:"status"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
	Total         int                     `json:"total"`
	BySeverity    map[string]int          `json:"by_severity"`
	Groups        []severityGroupResponse `json:"groups"`
}

type frameworkResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version,omitempty"`
	Description string `json:"description,omitempty"`
}

type frameworkListResponse struct {
	Frameworks []frameworkResponse `json:"frameworks"`
}

type ruleResponse struct {
	ID          string `json:"id"`
	Citation    string `json:"citation"`
	Title       string `json:"title"`
	Requirement string `json:"requirement"`
}

type frameworkRulesResponse struct {
	Framework frameworkResponse `json:"framework"`
	Rules     []ruleResponse    `json:"rules"`
}

func toFindingResponses(fs []scanDomain.Finding) []findingResponse {
	out := make([]findingResponse, 0, len(fs))
	for _, f := range fs {
		out = append(out, findingResponse{
			FindingID:       f.FindingID().String(),
			RuleID:          f.Rule().ID,
			Citation:        f.Rule().Citation,
			Title:           f.Rule().Title,
			Severity:        f.Severity().String(),
			Excerpt:         f.Excerpt(),
			Remediation:     f.Remediation(),
			ParagraphNumber: f.ParagraphNumber(),
		})
	}
	return out
}

func toScanResponse(s *scanDomain.Scan, withFindings bool) scanResponse {
	resp := scanResponse{
		ScanID:        s.ScanID().String(),
		UserID:        s.UserID(),
		FrameworkID:   s.FrameworkID(),
		FrameworkName: s.FrameworkName(),
		DocumentName:  s.DocumentName(),
		Status:        s.Status().String(),
		FailureReason: s.FailureReason(),
		FindingsCount: s.FindingsCount(),
		CreatedAt:     s.CreatedAt(),
	}
	if t, ok := s.CompletedAt(); ok {
		resp.CompletedAt = &t
	}
	if withFindings {
		resp.Findings = toFindingResponses(s.Findings())
	}
	return resp
}

// MarshalReport renders r in the JSON form served by the report route.
func MarshalReport(r scanapp.Report) ([]byte, error) {
	return json.MarshalIndent(toReportResponse(r), "", "  ")
}

func toReportResponse(r scanapp.Report) reportResponse {
	resp := reportResponse{
		ScanID:        r.ScanID.String(),
		UserID:        r.UserID,
		FrameworkID:   r.FrameworkID,
		FrameworkName: r.FrameworkName,
		DocumentName:  r.DocumentName,
		Status:        r.Status.String(),
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		Total:         r.Summary.Total,
		BySeverity:    make(map[string]int, len(r.Summary.BySeverity)),
		Groups:        make([]severityGroupResponse, 0, len(r.Groups)),
	}
	if !r.CompletedAt.IsZero() {
		t := r.CompletedAt
		resp.CompletedAt = &t
	}
	for sev, n := range r.Summary.BySeverity {
		resp.BySeverity[sev.String()] = n
	}
	for _, g := range r.Groups {
		resp.Groups = append(resp.Groups, severityGroupResponse{
			Severity: g.Severity.String(),
			Findings: toFindingResponses(g.Findings),
		})
	}
	return resp
}

func toFrameworkResponse(fw rules.Framework) frameworkResponse {
	return frameworkResponse{ID: fw.ID, Name: fw.Name, Version: fw.Version, Description: fw.Description}
}
