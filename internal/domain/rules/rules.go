package rules

import (
	"crypto/sha256"
	"encoding/hex"
)

// Framework is a named regulatory standard (GDPR, HIPAA, ...). Frameworks
// are reference data: loaded once and shared read-only across scans.
type Framework struct {
	ID          string
	Name        string
	Version     string
	Description string
}

// Rule is one checkable clause of a Framework.
type Rule struct {
	ID          string
	FrameworkID string
	// Citation is the article or section the rule comes from, e.g. "Art. 32(1)".
	Citation    string
	Title       string
	Requirement string
}

// Fingerprint returns a stable digest of the rule's identity and normative
// text. Two rules with the same fingerprint check the same obligation.
func (r Rule) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.FrameworkID))
	h.Write([]byte{0})
	h.Write([]byte(r.ID))
	h.Write([]byte{0})
	h.Write([]byte(r.Requirement))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
