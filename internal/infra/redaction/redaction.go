// Package redaction masks secrets in finding excerpts using the gitleaks
// detection rules.
package redaction

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"

	"github.com/ahrav/compliance-armada/internal/domain/scanning"
)

// Placeholder replaces every detected secret.
const Placeholder = "REDACTED"

var _ scanning.ExcerptRedactor = (*GitleaksRedactor)(nil)

// GitleaksRedactor replaces secrets found by the gitleaks default rules.
type GitleaksRedactor struct {
	cfg config.Config
}

// NewGitleaksRedactor loads the gitleaks default configuration.
func NewGitleaksRedactor() (*GitleaksRedactor, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(bytes.NewBufferString(config.DefaultConfig)); err != nil {
		return nil, fmt.Errorf("failed to read embedded gitleaks config: %w", err)
	}

	var vc config.ViperConfig
	if err := v.Unmarshal(&vc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal embedded gitleaks config: %w", err)
	}

	cfg, err := vc.Translate()
	if err != nil {
		return nil, fmt.Errorf("failed to translate gitleaks config: %w", err)
	}
	return &GitleaksRedactor{cfg: cfg}, nil
}

// Redact returns excerpt with each detected secret replaced by Placeholder.
// A detector keeps every finding it reports, so each call uses a new one.
func (r *GitleaksRedactor) Redact(excerpt string) string {
	if excerpt == "" {
		return excerpt
	}

	detector := detect.NewDetector(r.cfg)
	findings := detector.DetectString(excerpt)
	if len(findings) == 0 {
		return excerpt
	}

	secrets := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Secret != "" {
			secrets = append(secrets, f.Secret)
		}
	}
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(secrets, func(i, j int) bool { return len(secrets[i]) > len(secrets[j]) })

	out := excerpt
	for _, s := range secrets {
		out = strings.ReplaceAll(out, s, Placeholder)
	}
	return out
}
