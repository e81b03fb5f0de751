// Package fallback walks an ordered list of model candidates until one
// succeeds.
//
// The walk is strictly in priority order and stops at the first success. A
// candidate that fails is never retried within the same call. Retryable and
// malformed failures advance to the next candidate; an authentication failure
// skips every remaining candidate behind the same credential.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/metrics"
)

// DefaultAttemptTimeout bounds a single candidate attempt.
const DefaultAttemptTimeout = 60 * time.Second

// ErrAllFailed is wrapped by AllFailedError.
var ErrAllFailed = errors.New("fallback: all candidates failed")

// FailureKind classifies why a candidate failed.
type FailureKind string

const (
	FailureUnauthorized FailureKind = "unauthorized"
	FailureRateLimited  FailureKind = "rate_limited"
	FailureTimeout      FailureKind = "timeout"
	FailureUnavailable  FailureKind = "unavailable"
	FailureMalformed    FailureKind = "malformed"
)

// KindOf classifies an AI error.
func KindOf(err error) FailureKind {
	switch ai.Classify(err) {
	case ai.EAIUnauthorized:
		return FailureUnauthorized
	case ai.EAIRateLimit:
		return FailureRateLimited
	case ai.EAITimeout:
		return FailureTimeout
	case ai.EAIMalformed:
		return FailureMalformed
	default:
		return FailureUnavailable
	}
}

// CandidateFailure records one failed attempt.
type CandidateFailure struct {
	Model string
	Kind  FailureKind
	Err   error
}

// Reason is a user-safe description of the failure.
func (f CandidateFailure) Reason() string {
	return fmt.Sprintf("%s: %s", f.Model, f.Kind)
}

// AllFailedError carries every per-candidate failure of a walk.
type AllFailedError struct {
	Failures []CandidateFailure
	// Fatal is set when the walk stopped early on an unrecoverable failure.
	Fatal bool
}

func (e *AllFailedError) Error() string {
	reasons := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		reasons[i] = f.Reason()
	}
	if e.Fatal {
		return fmt.Sprintf("fallback: stopped after fatal failure (%s)", strings.Join(reasons, "; "))
	}
	return fmt.Sprintf("fallback: all %d candidates failed (%s)", len(e.Failures), strings.Join(reasons, "; "))
}

func (e *AllFailedError) Unwrap() error {
	return ErrAllFailed
}

// Probe attempts one candidate. It is usually the real generation call, so
// a successful probe is also the result.
type Probe func(ctx context.Context, model string) error

// Selection is the outcome of a successful walk.
type Selection struct {
	Model    string
	Attempts int
	Failures []CandidateFailure
}

// Selector picks the first working candidate.
type Selector interface {
	Select(ctx context.Context, candidates Candidates, probe Probe) (Selection, error)
}

// Option configures a sequential selector.
type Option func(*sequential)

// WithAttemptTimeout sets the per-candidate timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(s *sequential) {
		if d > 0 {
			s.attemptTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *sequential) { s.logger = l }
}

// WithOwner tells the selector which credential serves each model. After
// an unauthorized failure only candidates with the same owner are skipped;
// without it every candidate is assumed to share one credential.
func WithOwner(owner func(model string) string) Option {
	return func(s *sequential) {
		if owner != nil {
			s.owner = owner
		}
	}
}

type sequential struct {
	attemptTimeout time.Duration
	owner          func(model string) string
	logger         *slog.Logger
}

var _ Selector = (*sequential)(nil)

// NewSelector creates a stateless selector.
func NewSelector(opts ...Option) Selector {
	s := &sequential{
		attemptTimeout: DefaultAttemptTimeout,
		owner:          func(string) string { return "" },
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select tries candidates in order. Caller cancellation aborts the walk and
// returns the context error. An unauthorized failure rules out every later
// candidate with the same owner; the walk stops once none is left.
func (s *sequential) Select(ctx context.Context, candidates Candidates, probe Probe) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, ErrNoCandidates
	}

	var (
		failures []CandidateFailure
		revoked  = make(map[string]bool)
		fatal    bool
	)
	for i, model := range candidates {
		if err := ctx.Err(); err != nil {
			return Selection{}, err
		}
		if revoked[s.owner(model)] {
			continue
		}

		err := s.attempt(ctx, model, probe)
		if err == nil {
			metrics.ModelAttempted(model, "success")
			if len(failures) > 0 {
				s.logger.Info("Fallback candidate succeeded",
					"model", model,
					"attempt", i+1,
					"failed", len(failures),
				)
			}
			return Selection{Model: model, Attempts: i + 1, Failures: failures}, nil
		}

		// The caller gave up; this is not the candidate's fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Selection{}, ctxErr
		}

		failure := CandidateFailure{Model: model, Kind: KindOf(err), Err: err}
		failures = append(failures, failure)
		metrics.ModelAttempted(model, string(failure.Kind))

		s.logger.Warn("Fallback candidate failed",
			"model", model,
			"attempt", i+1,
			"kind", failure.Kind,
			"error", err,
		)

		if ai.IsFatal(err) {
			fatal = true
			revoked[s.owner(model)] = true
			if !s.anyUsable(candidates[i+1:], revoked) {
				return Selection{}, &AllFailedError{Failures: failures, Fatal: true}
			}
		}
	}

	return Selection{}, &AllFailedError{Failures: failures, Fatal: fatal}
}

func (s *sequential) anyUsable(rest Candidates, revoked map[string]bool) bool {
	for _, model := range rest {
		if !revoked[s.owner(model)] {
			return true
		}
	}
	return false
}

func (s *sequential) attempt(ctx context.Context, model string, probe Probe) error {
	attemptCtx, cancel := context.WithTimeout(ctx, s.attemptTimeout)
	defer cancel()

	err := probe(attemptCtx, model)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %v", ai.EAITimeout, err)
	}
	return err
}
