// Package extract invokes the external extraction backend and shields the
// rest of the pipeline from its unreliability: per-call timeouts, retry with
// exponential backoff and jitter, rate limiting, an in-flight cap, and a
// content-addressed result cache.
package extract

import (
	"context"
	"time"

	"github.com/receiptflow/receiptflow/internal/model"
)

// Request is the payload sent to the extraction backend.
type Request struct {
	RedactedText string
	TemplateID   string
}

// Backend performs a single extraction call against the external capability.
// Implementations must distinguish failures via the common.ErrBackend*
// sentinels so the client can apply the right retry policy.
type Backend interface {
	ID() string
	Extract(ctx context.Context, req Request) (model.ExtractionCandidate, error)
}

// Observer is invoked once per backend attempt, success or failure, with the
// attempt outcome and its latency. Used for metrics hooks; no specific
// metrics implementation is assumed.
type Observer func(outcome Outcome, latency time.Duration)

// Outcome classifies a single backend attempt.
type Outcome string

// Attempt outcomes.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeMalformed   Outcome = "malformed"
	OutcomeError       Outcome = "error"
)
