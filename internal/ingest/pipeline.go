package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
	"github.com/receiptflow/receiptflow/internal/redact"
)

// Extractor produces extraction candidates for redacted message text.
// Implemented by extract.Client.
type Extractor interface {
	Extract(ctx context.Context, fingerprint, redactedText, templateID string) (model.ExtractionCandidate, error)
	MaxAttempts() int
}

// Normalizer converts a candidate into a canonical draft.
type Normalizer interface {
	Normalize(candidate model.ExtractionCandidate, receivedAt time.Time, bodyText string) model.ExpenseDraft
}

// Pipeline runs one task through redaction, extraction, normalization, and
// persistence. Every processed task terminates Done or DeadLettered unless
// the context is cancelled mid-flight, in which case the task stops at its
// current stage and a re-ingest of the same message is safe: the cache and
// the dedup key both derive from the fingerprint.
type Pipeline struct {
	redactor    *redact.Redactor
	extractor   Extractor
	normalizer  Normalizer
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewPipeline assembles a pipeline from its stages.
func NewPipeline(redactor *redact.Redactor, extractor Extractor, normalizer Normalizer, coordinator *Coordinator, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		redactor:    redactor,
		extractor:   extractor,
		normalizer:  normalizer,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Process advances a task through every stage. The task's final state is
// recorded on the task itself; Process does not return an error because a
// failed task is a dead-lettered task, not a pipeline failure.
func (p *Pipeline) Process(ctx context.Context, task *Task) {
	task.Stage = StageExtracting

	redacted := p.redactor.Redact(task.Message.Body)
	if task.AttachmentDigest == "" {
		task.AttachmentDigest = redact.AttachmentDigest(task.Message.Attachments)
	}
	task.Fingerprint = redact.Fingerprint(redacted, task.TemplateID, task.AttachmentDigest)

	// A replayed task may carry the draft the original run already produced;
	// extraction and normalization are skipped so the backend isn't charged
	// twice for the same message.
	if task.Draft == nil {
		candidate, err := p.extractor.Extract(ctx, task.Fingerprint, redacted, task.TemplateID)
		if err != nil {
			p.fail(ctx, task, attemptsSpent(err, p.extractor.MaxAttempts()), err)
			return
		}

		task.Stage = StageNormalizing
		draft := p.normalizer.Normalize(candidate, task.Message.ReceivedAt, redacted)
		task.Draft = &draft
	}

	task.Stage = StagePersisting

	// The record write and any dead-letter escalation must survive shutdown:
	// a task that reached this stage has already spent backend calls.
	persistCtx := context.WithoutCancel(ctx)
	record, err := p.coordinator.Ingest(persistCtx, task.UserID, task.Fingerprint, *task.Draft)
	if err != nil {
		p.fail(persistCtx, task, attemptsSpent(err, p.coordinator.MaxAttempts()), err)
		return
	}

	task.Record = &record
	task.Stage = StageDone
}

// fail transitions a task to DeadLettered, unless the failure was the
// caller's own cancellation, which leaves the task incomplete rather than
// poisoning the dead-letter queue with resumable work.
func (p *Pipeline) fail(ctx context.Context, task *Task, attempts int, cause error) {
	task.Err = cause

	if errors.Is(cause, context.Canceled) {
		p.logger.Info("task cancelled",
			"message_id", task.Message.ID,
			"stage", task.Stage)
		return
	}

	if err := p.coordinator.DeadLetter(ctx, task, attempts, cause); err != nil {
		p.logger.Error("dead-letter write failed",
			"message_id", task.Message.ID,
			"error", err)
		task.Err = err
		return
	}

	task.Stage = StageDeadLettered
}

// attemptsSpent maps a stage error to the number of attempts it represents:
// an exhausted retry loop spent the full ceiling, anything else failed on the
// first call.
func attemptsSpent(err error, maxAttempts int) int {
	if errors.Is(err, common.ErrMaxRetries) {
		return maxAttempts
	}
	return 1
}
