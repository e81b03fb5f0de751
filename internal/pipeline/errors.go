package pipeline

import (
	"fmt"

	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/domain"
)

// Kind classifies why a run ended in StateErrored.
type Kind string

const (
	KindInvalidInput      Kind = "invalid_input"
	KindNotEntitled       Kind = "not_entitled"
	KindGenerationFailed  Kind = "generation_failed"
	KindMalformedResponse Kind = "malformed_response"
	KindCanceled          Kind = "canceled"
	KindInternal          Kind = "internal"
)

// Error is returned by a failed run. It unwraps to a *domain.Error so
// callers can map it like any other application error.
type Error struct {
	Kind   Kind
	Stage  State
	Remedy string
	// Failures holds every per-candidate failure for KindGenerationFailed.
	Failures []fallback.CandidateFailure
	// Decision is set for KindNotEntitled.
	Decision *domain.Decision
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pipeline %s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reasons returns user-safe per-candidate failure reasons.
func (e *Error) Reasons() []string {
	out := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Reason()
	}
	return out
}

func newError(kind Kind, stage State, err error) *Error {
	return &Error{
		Kind:   kind,
		Stage:  stage,
		Remedy: domain.ErrorRemedy(domain.ErrorCode(err)),
		Err:    err,
	}
}
