package scanning

// Verdict is the outcome of evaluating one rule against one chunk: either
// no gap, or a gap with a severity and remediation advice.
type Verdict struct {
	gap         bool
	severity    Severity
	remediation string
}

// NoGap is the verdict for a compliant (or unevaluable) pair.
func NoGap() Verdict { return Verdict{} }

// Gap builds a verdict describing a compliance gap.
func Gap(severity Severity, remediation string) Verdict {
	return Verdict{gap: true, severity: severity, remediation: remediation}
}

// IsGap reports whether the verdict should produce a finding.
func (v Verdict) IsGap() bool { return v.gap }

// Severity returns the gap severity. Empty for NoGap.
func (v Verdict) Severity() Severity { return v.severity }

// Remediation returns the suggested fix. Empty for NoGap.
func (v Verdict) Remediation() string { return v.remediation }
