package gemini

import (
	"fmt"
	"strings"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

const systemPrompt = `You are a compliance auditor. You judge whether one paragraph of a policy
document satisfies one requirement of a regulatory framework.

Answer with a single JSON object and nothing else:
{"compliant": true|false, "severity": "high"|"medium"|"low", "remediation": "<one or two sentences>"}

Set "compliant" to true when the paragraph satisfies the requirement or does
not address it. When "compliant" is false, "severity" and "remediation" are
required.`

func buildPrompt(req scanning.EvaluationRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Framework: %s\n", req.Rule.FrameworkID)
	fmt.Fprintf(&b, "Rule: %s", req.Rule.ID)
	if req.Rule.Citation != "" {
		fmt.Fprintf(&b, " (%s)", req.Rule.Citation)
	}
	if req.Rule.Title != "" {
		fmt.Fprintf(&b, " %s", req.Rule.Title)
	}
	fmt.Fprintf(&b, "\nRequirement: %s\n\n", req.Rule.Requirement)
	fmt.Fprintf(&b, "Paragraph %d:\n%s\n", req.ChunkIndex, req.ChunkText)
	return b.String()
}
