package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
	"github.com/receiptflow/receiptflow/internal/storage"
)

// ExpenseStore persists expense records with at-most-one semantics per
// (user, fingerprint).
type ExpenseStore interface {
	CreateIfAbsent(ctx context.Context, userID, fingerprint string, draft model.ExpenseDraft) (model.ExpenseRecord, error)
}

// DeadLetterStore records messages that exhausted the pipeline.
type DeadLetterStore interface {
	AppendDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error
}

// Coordinator owns the persistence step of the pipeline: idempotent record
// creation with internal retries, and dead-letter escalation when a message
// cannot be completed.
type Coordinator struct {
	expenses    ExpenseStore
	deadLetters DeadLetterStore
	logger      *slog.Logger
	retryOpts   common.RetryOptions
}

// NewCoordinator creates a coordinator over the given stores.
func NewCoordinator(expenses ExpenseStore, deadLetters DeadLetterStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		expenses:    expenses,
		deadLetters: deadLetters,
		logger:      logger,
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
	}
}

// MaxAttempts returns the persistence retry ceiling.
func (c *Coordinator) MaxAttempts() int {
	return c.retryOpts.MaxAttempts
}

// Ingest persists a draft for (userID, fingerprint). Replays of an already
// persisted fingerprint return the existing record unchanged. Transient
// store failures are retried; a draft the store rejects outright is not.
func (c *Coordinator) Ingest(ctx context.Context, userID, fingerprint string, draft model.ExpenseDraft) (model.ExpenseRecord, error) {
	var record model.ExpenseRecord

	err := common.WithRetry(ctx, func() error {
		created, err := c.expenses.CreateIfAbsent(ctx, userID, fingerprint, draft)
		if err != nil {
			return &common.RetryableError{Err: err, Retryable: persistRetryable(err)}
		}
		record = created
		return nil
	}, c.retryOpts)

	if err != nil {
		return model.ExpenseRecord{}, fmt.Errorf("ingest failed: %w", err)
	}

	c.logger.Info("expense persisted",
		"expense_id", record.ExpenseID,
		"user_id", record.UserID,
		"fingerprint", record.Fingerprint,
		"status", record.Draft.Status)

	return record, nil
}

// DeadLetter records a failed message for later replay. The write runs even
// when the surrounding context has been cancelled: losing the failure record
// would make the message silently disappear.
func (c *Coordinator) DeadLetter(ctx context.Context, task *Task, attemptCount int, cause error) error {
	entry := model.DeadLetterEntry{
		Fingerprint:      task.Fingerprint,
		UserID:           task.UserID,
		MessageID:        task.Message.ID,
		TemplateID:       task.TemplateID,
		Channel:          task.Message.Channel,
		Body:             task.Message.Body,
		AttachmentDigest: task.AttachmentDigest,
		Draft:            task.Draft,
		ReceivedAt:       task.Message.ReceivedAt,
		LastError:        cause.Error(),
		AttemptCount:     attemptCount,
		FirstFailedAt:    time.Now().UTC(),
	}

	if err := c.deadLetters.AppendDeadLetter(context.WithoutCancel(ctx), entry); err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", task.Message.ID, err)
	}

	c.logger.Warn("message dead-lettered",
		"message_id", task.Message.ID,
		"fingerprint", task.Fingerprint,
		"attempts", attemptCount,
		"error", cause)

	return nil
}

// persistRetryable reports whether a persistence error is worth another
// attempt. A draft or argument the store rejects will be rejected again.
func persistRetryable(err error) bool {
	return !errors.Is(err, storage.ErrInvalidDraft) &&
		!errors.Is(err, storage.ErrEmptyString) &&
		!errors.Is(err, storage.ErrNilContext)
}
