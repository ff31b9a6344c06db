package scanning

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ahrav/compliance-armada/internal/domain/rules"
)

// ErrMalformedVerdict is returned by an InferenceService when the remote
// answer does not parse as a verdict.
var ErrMalformedVerdict = errors.New("malformed verdict")

// EvaluationRequest is one (chunk, rule) pair to be judged.
type EvaluationRequest struct {
	ScanID     uuid.UUID
	Rule       rules.Rule
	ChunkIndex int
	ChunkText  string
}

// InferenceService is the remote model that decides whether a chunk
// satisfies a rule. Implementations make one remote call per request and
// are not expected to be deterministic.
type InferenceService interface {
	Evaluate(ctx context.Context, req EvaluationRequest) (Verdict, error)
}

// ExcerptRedactor masks sensitive values in finding excerpts before they
// are stored.
type ExcerptRedactor interface {
	Redact(excerpt string) string
}
