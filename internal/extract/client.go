package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
)

// Client wraps a Backend with the full reliability policy: fingerprint cache,
// requests-per-minute rate limiting, an in-flight cap independent of worker
// count, per-call timeouts, and retry with exponential backoff and jitter.
type Client struct {
	backend     Backend
	cache       *candidateCache
	rateLimiter *rateLimiter
	inflight    *semaphore.Weighted
	logger      *slog.Logger
	observer    Observer
	retryOpts   common.RetryOptions
	callTimeout time.Duration
}

// Config holds configuration for the extraction client.
type Config struct {
	MaxAttempts   int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	CallTimeout   time.Duration
	CacheTTL      time.Duration
	CacheSize     int
	RateLimit     int   // requests per minute
	MaxInFlight   int64 // concurrent backend calls, independent of worker count
}

// NewClient creates an extraction client around the given backend.
// The observer, if non-nil, is invoked once per backend attempt.
func NewClient(cfg Config, backend Backend, logger *slog.Logger, observer Observer) *Client {
	retryOpts := common.RetryOptions{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.RetryDelay,
		MaxDelay:     cfg.MaxRetryDelay,
		Multiplier:   2.0,
	}
	if retryOpts.MaxAttempts == 0 {
		retryOpts.MaxAttempts = 3
	}
	if retryOpts.InitialDelay == 0 {
		retryOpts.InitialDelay = time.Second
	}
	if retryOpts.MaxDelay == 0 {
		retryOpts.MaxDelay = 30 * time.Second
	}

	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = 30 * time.Second
	}

	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 4
	}

	return &Client{
		backend:     backend,
		cache:       newCandidateCache(cfg.CacheTTL, cfg.CacheSize),
		rateLimiter: newRateLimiter(cfg.RateLimit),
		inflight:    semaphore.NewWeighted(maxInFlight),
		logger:      logger,
		observer:    observer,
		retryOpts:   retryOpts,
		callTimeout: callTimeout,
	}
}

// MaxAttempts returns the configured retry ceiling.
func (c *Client) MaxAttempts() int {
	return c.retryOpts.MaxAttempts
}

// Extract returns the candidate for a fingerprint, short-circuiting on a
// cache hit. On a miss it calls the backend under the full retry policy and
// caches the result. Candidates are never mutated; a retry produces a new
// candidate.
func (c *Client) Extract(ctx context.Context, fingerprint, redactedText, templateID string) (model.ExtractionCandidate, error) {
	if candidate, found := c.cache.get(fingerprint); found {
		c.logger.Debug("extraction cache hit", "fingerprint", fingerprint)
		return candidate, nil
	}

	var candidate model.ExtractionCandidate

	err := common.WithRetry(ctx, func() error {
		attempt, err := c.attempt(ctx, redactedText, templateID)
		if err != nil {
			c.logger.Warn("extraction attempt failed",
				"fingerprint", fingerprint,
				"backend", c.backend.ID(),
				"error", err)
			return &common.RetryableError{Err: err, Retryable: retryable(err)}
		}

		candidate = attempt
		return nil
	}, c.retryOpts)

	if err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("extraction failed: %w", err)
	}

	c.cache.put(fingerprint, candidate)

	c.logger.Info("extraction succeeded",
		"fingerprint", fingerprint,
		"backend", candidate.Provenance.BackendID,
		"confidence", candidate.Confidence,
		"latency", candidate.Provenance.Latency)

	return candidate, nil
}

// attempt performs one measured backend call under the in-flight cap, the
// rate limiter, and the per-call timeout.
func (c *Client) attempt(ctx context.Context, redactedText, templateID string) (model.ExtractionCandidate, error) {
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("in-flight limit: %w", err)
	}
	defer c.inflight.Release(1)

	if err := c.rateLimiter.wait(ctx); err != nil {
		return model.ExtractionCandidate{}, fmt.Errorf("rate limit error: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	start := time.Now()
	candidate, err := c.backend.Extract(callCtx, Request{
		RedactedText: redactedText,
		TemplateID:   templateID,
	})
	latency := time.Since(start)

	if c.observer != nil {
		c.observer(outcomeOf(err), latency)
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", common.ErrBackendTimeout, err)
		}
		return model.ExtractionCandidate{}, err
	}

	candidate.Provenance = model.Provenance{
		TemplateID: templateID,
		BackendID:  c.backend.ID(),
		Latency:    latency,
	}

	return candidate, nil
}

// retryable reports whether an attempt error warrants another backend call.
// Timeouts and rate limits are transient. A malformed response is also given
// fresh attempts: the backend is non-deterministic, and the parser has
// already salvaged anything salvageable before classifying output as
// malformed.
func retryable(err error) bool {
	return errors.Is(err, common.ErrBackendTimeout) ||
		errors.Is(err, common.ErrBackendRateLimited) ||
		errors.Is(err, common.ErrBackendMalformed)
}

// outcomeOf classifies an attempt error for the observer hook.
func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, common.ErrBackendTimeout), errors.Is(err, context.DeadlineExceeded):
		return OutcomeTimeout
	case errors.Is(err, common.ErrBackendRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, common.ErrBackendMalformed):
		return OutcomeMalformed
	default:
		return OutcomeError
	}
}

// Close stops background goroutines and cleans up resources.
func (c *Client) Close() error {
	if c.cache != nil {
		c.cache.Close()
	}
	if c.rateLimiter != nil {
		c.rateLimiter.Close()
	}
	return nil
}
