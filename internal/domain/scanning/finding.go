package scanning

import (
	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
)

// MaxExcerptRunes bounds the document excerpt stored with a finding.
const MaxExcerptRunes = 200

// Finding is one detected compliance gap. Findings are created during scan
// execution and never modified afterwards.
type Finding struct {
	findingID       uuid.UUID
	scanID          uuid.UUID
	rule            rules.Rule
	severity        Severity
	excerpt         string
	remediation     string
	paragraphNumber int
}

// NewFinding creates a finding for a gap verdict on the given chunk. The
// excerpt is the first MaxExcerptRunes runes of the chunk text.
func NewFinding(scanID uuid.UUID, rule rules.Rule, paragraphNumber int, chunkText string, v Verdict) Finding {
	return Finding{
		findingID:       uuid.New(),
		scanID:          scanID,
		rule:            rule,
		severity:        v.Severity(),
		excerpt:         Excerpt(chunkText),
		remediation:     v.Remediation(),
		paragraphNumber: paragraphNumber,
	}
}

// ReconstructFinding rebuilds a finding from storage, bypassing creation rules.
func ReconstructFinding(
	findingID uuid.UUID,
	scanID uuid.UUID,
	rule rules.Rule,
	severity Severity,
	excerpt string,
	remediation string,
	paragraphNumber int,
) Finding {
	return Finding{
		findingID:       findingID,
		scanID:          scanID,
		rule:            rule,
		severity:        severity,
		excerpt:         excerpt,
		remediation:     remediation,
		paragraphNumber: paragraphNumber,
	}
}

func (f Finding) FindingID() uuid.UUID { return f.findingID }
func (f Finding) ScanID() uuid.UUID { return f.scanID }
func (f Finding) Rule() rules.Rule { return f.rule }
func (f Finding) Severity() Severity { return f.severity }
func (f Finding) Excerpt() string { return f.excerpt }
func (f Finding) Remediation() string { return f.remediation }
func (f Finding) ParagraphNumber() int { return f.paragraphNumber }

// WithExcerpt returns a copy of the finding carrying a different excerpt.
// Used to redact sensitive values before the finding is attached to a scan.
func (f Finding) WithExcerpt(excerpt string) Finding {
	f.excerpt = excerpt
	return f
}

// Excerpt truncates text to MaxExcerptRunes runes.
func Excerpt(text string) string {
	r := []rune(text)
	if len(r) <= MaxExcerptRunes {
		return text
	}
	return string(r[:MaxExcerptRunes])
}
