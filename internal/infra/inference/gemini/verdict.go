package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

type verdictPayload struct {
	Compliant   *bool  `json:"compliant"`
	Severity    string `json:"severity"`
	Remediation string `json:"remediation"`
}

// ParseVerdict decodes the model's JSON answer. Markdown code fences around
// the object are ignored. Any answer that is not a complete verdict wraps
// scanning.ErrMalformedVerdict.
func ParseVerdict(text string) (scanning.Verdict, error) {
	raw := stripFences(text)

	var p verdictPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return scanning.Verdict{}, fmt.Errorf("%w: %v", scanning.ErrMalformedVerdict, err)
	}
	if p.Compliant == nil {
		return scanning.Verdict{}, fmt.Errorf("%w: missing compliant field", scanning.ErrMalformedVerdict)
	}
	if *p.Compliant {
		return scanning.NoGap(), nil
	}

	sev, ok := scanning.ParseSeverity(p.Severity)
	if !ok {
		return scanning.Verdict{}, fmt.Errorf("%w: unknown severity %q", scanning.ErrMalformedVerdict, p.Severity)
	}
	remediation := strings.TrimSpace(p.Remediation)
	if remediation == "" {
		return scanning.Verdict{}, fmt.Errorf("%w: missing remediation", scanning.ErrMalformedVerdict)
	}
	return scanning.Gap(sev, remediation), nil
}

func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// Drop the info string, e.g. "json".
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
