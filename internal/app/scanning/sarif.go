package scanning

import (
	"encoding/json"
	"fmt"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

const (
	sarifVersion = "2.1.0"
	sarifSchema  = "https://json.schemastore.org/sarif-2.1.0.json"
	toolName     = "compliance-armada"
)

// SARIF log types, limited to the fields a report needs.
type (
	SARIFLog struct {
		Version string     `json:"version"`
		Schema  string     `json:"$schema"`
		Runs    []SARIFRun `json:"runs"`
	}

	SARIFRun struct {
		Tool       SARIFTool         `json:"tool"`
		Results    []SARIFResult     `json:"results"`
		Properties map[string]string `json:"properties,omitempty"`
	}

	SARIFTool struct {
		Driver SARIFDriver `json:"driver"`
	}

	SARIFDriver struct {
		Name  string      `json:"name"`
		Rules []SARIFRule `json:"rules"`
	}

	SARIFRule struct {
		ID               string       `json:"id"`
		Name             string       `json:"name,omitempty"`
		ShortDescription SARIFMessage `json:"shortDescription"`
		FullDescription  SARIFMessage `json:"fullDescription"`
	}

	SARIFResult struct {
		RuleID              string            `json:"ruleId"`
		Level               string            `json:"level"`
		Message             SARIFMessage      `json:"message"`
		Locations           []SARIFLocation   `json:"locations"`
		PartialFingerprints map[string]string `json:"partialFingerprints,omitempty"`
	}

	SARIFMessage struct {
		Text string `json:"text"`
	}

	SARIFLocation struct {
		PhysicalLocation SARIFPhysicalLocation `json:"physicalLocation"`
	}

	SARIFPhysicalLocation struct {
		ArtifactLocation SARIFArtifactLocation `json:"artifactLocation"`
		Region           SARIFRegion           `json:"region"`
	}

	SARIFArtifactLocation struct {
		URI string `json:"uri"`
	}

	SARIFRegion struct {
		StartLine int           `json:"startLine"`
		Snippet   *SARIFMessage `json:"snippet,omitempty"`
	}
)

func sarifLevel(s scanning.Severity) string {
	switch s {
	case scanning.SeverityHigh:
		return "error"
	case scanning.SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// SARIF converts the report to a SARIF log with one run. The paragraph
// number is reported as the region start line.
func (r Report) SARIF() SARIFLog {
	run := SARIFRun{
		Tool:    SARIFTool{Driver: SARIFDriver{Name: toolName, Rules: []SARIFRule{}}},
		Results: []SARIFResult{},
		Properties: map[string]string{
			"scanId":      r.ScanID.String(),
			"frameworkId": r.FrameworkID,
			"status":      r.Status.String(),
		},
	}

	seen := make(map[string]struct{})
	for _, g := range r.Groups {
		for _, f := range g.Findings {
			rule := f.Rule()
			if _, ok := seen[rule.ID]; !ok {
				seen[rule.ID] = struct{}{}
				run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, SARIFRule{
					ID:               rule.ID,
					Name:             rule.Title,
					ShortDescription: SARIFMessage{Text: fmt.Sprintf("%s %s", rule.Citation, rule.Title)},
					FullDescription:  SARIFMessage{Text: rule.Requirement},
				})
			}

			run.Results = append(run.Results, SARIFResult{
				RuleID:  rule.ID,
				Level:   sarifLevel(f.Severity()),
				Message: SARIFMessage{Text: f.Remediation()},
				Locations: []SARIFLocation{{
					PhysicalLocation: SARIFPhysicalLocation{
						ArtifactLocation: SARIFArtifactLocation{URI: r.DocumentName},
						Region: SARIFRegion{
							StartLine: f.ParagraphNumber(),
							Snippet:   &SARIFMessage{Text: f.Excerpt()},
						},
					},
				}},
				PartialFingerprints: map[string]string{"ruleFingerprint": rule.Fingerprint()},
			})
		}
	}

	return SARIFLog{Version: sarifVersion, Schema: sarifSchema, Runs: []SARIFRun{run}}
}

// MarshalSARIF renders the report as indented SARIF JSON.
func (r Report) MarshalSARIF() ([]byte, error) {
	return json.MarshalIndent(r.SARIF(), "", "  ")
}
