// Package storage provides the data persistence layer for expense records
// and dead-lettered messages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/receiptflow/receiptflow/internal/model"
)

// Validation errors.
var (
	ErrNilContext        = errors.New("context cannot be nil")
	ErrEmptyString       = errors.New("string parameter cannot be empty")
	ErrInvalidDraft      = errors.New("invalid expense draft")
	ErrInvalidDeadLetter = errors.New("invalid dead letter entry")
	ErrInvalidDateRange  = errors.New("start date must be before end date")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDraft validates an expense draft before persistence.
func validateDraft(draft *model.ExpenseDraft) error {
	if draft == nil {
		return fmt.Errorf("%w: draft is nil", ErrInvalidDraft)
	}
	if draft.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidDraft)
	}
	if strings.TrimSpace(draft.Currency) == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidDraft)
	}
	if strings.TrimSpace(draft.Category) == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidDraft)
	}
	if draft.Amount != nil && *draft.Amount < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidDraft)
	}
	if draft.Confidence < 0 || draft.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidDraft)
	}

	switch draft.Status {
	case model.StatusClean, model.StatusDefaulted, model.StatusNeedsReview:
		// Valid status
	default:
		return fmt.Errorf("%w: invalid status %q", ErrInvalidDraft, draft.Status)
	}

	return nil
}

// validateDeadLetter validates a dead letter entry before persistence.
func validateDeadLetter(entry *model.DeadLetterEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry is nil", ErrInvalidDeadLetter)
	}
	if strings.TrimSpace(entry.Fingerprint) == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidDeadLetter)
	}
	if strings.TrimSpace(entry.UserID) == "" {
		return fmt.Errorf("%w: missing user id", ErrInvalidDeadLetter)
	}
	if strings.TrimSpace(entry.LastError) == "" {
		return fmt.Errorf("%w: missing error", ErrInvalidDeadLetter)
	}
	if entry.AttemptCount < 1 {
		return fmt.Errorf("%w: attempt count must be positive", ErrInvalidDeadLetter)
	}
	if entry.FirstFailedAt.IsZero() {
		return fmt.Errorf("%w: missing first failure time", ErrInvalidDeadLetter)
	}
	return nil
}
