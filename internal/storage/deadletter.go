package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
)

// AppendDeadLetter records a message that exhausted the pipeline. Repeated
// failures for the same (user, fingerprint) fold into one row: attempt counts
// accumulate, the first failure time is preserved, and the error message is
// replaced with the most recent one. A replayed entry that fails again is
// re-opened by clearing replayed_at.
func (s *SQLiteStorage) AppendDeadLetter(ctx context.Context, entry model.DeadLetterEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDeadLetter(&entry); err != nil {
		return err
	}

	var receivedAt sql.NullTime
	if !entry.ReceivedAt.IsZero() {
		receivedAt = sql.NullTime{Time: entry.ReceivedAt, Valid: true}
	}

	var draftJSON sql.NullString
	if entry.Draft != nil {
		data, err := json.Marshal(entry.Draft)
		if err != nil {
			return fmt.Errorf("failed to marshal dead letter draft: %w", err)
		}
		draftJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (
			fingerprint, user_id, message_id, template_id, channel, body,
			attachment_digest, draft_json, last_error, attempt_count,
			received_at, first_failed_at, replayed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(user_id, fingerprint) DO UPDATE SET
			last_error = excluded.last_error,
			draft_json = COALESCE(excluded.draft_json, dead_letters.draft_json),
			attempt_count = dead_letters.attempt_count + excluded.attempt_count,
			replayed_at = NULL
	`,
		entry.Fingerprint,
		entry.UserID,
		entry.MessageID,
		entry.TemplateID,
		string(entry.Channel),
		entry.Body,
		entry.AttachmentDigest,
		draftJSON,
		entry.LastError,
		entry.AttemptCount,
		receivedAt,
		entry.FirstFailedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append dead letter: %w", err)
	}
	return nil
}

// GetDeadLetter retrieves a dead letter entry by user and fingerprint.
// Returns common.ErrNotFound when no entry exists.
func (s *SQLiteStorage) GetDeadLetter(ctx context.Context, userID, fingerprint string) (*model.DeadLetterEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, user_id, message_id, template_id, channel, body,
		       attachment_digest, draft_json, last_error, attempt_count,
		       received_at, first_failed_at, replayed_at
		FROM dead_letters
		WHERE user_id = ? AND fingerprint = ?
	`, userID, fingerprint)

	entry, err := scanDeadLetter(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: dead letter for fingerprint %s", common.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter: %w", err)
	}
	return entry, nil
}

// ListDeadLetters returns dead letter entries, oldest failure first. When
// includeReplayed is false, entries that have already been replayed are
// excluded.
func (s *SQLiteStorage) ListDeadLetters(ctx context.Context, includeReplayed bool) ([]model.DeadLetterEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `
		SELECT fingerprint, user_id, message_id, template_id, channel, body,
		       attachment_digest, draft_json, last_error, attempt_count,
		       received_at, first_failed_at, replayed_at
		FROM dead_letters
	`
	if !includeReplayed {
		query += ` WHERE replayed_at IS NULL`
	}
	query += ` ORDER BY first_failed_at ASC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.DeadLetterEntry
	for rows.Next() {
		entry, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		entries = append(entries, *entry)
	}

	return entries, rows.Err()
}

// MarkReplayed stamps a dead letter entry as successfully replayed.
func (s *SQLiteStorage) MarkReplayed(ctx context.Context, userID, fingerprint string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(userID, "userID"); err != nil {
		return err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE dead_letters SET replayed_at = ?
		WHERE user_id = ? AND fingerprint = ?
	`, time.Now().UTC(), userID, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to mark dead letter replayed: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: dead letter for fingerprint %s", common.ErrNotFound, fingerprint)
	}
	return nil
}

// DeadLetterCount returns the number of dead letter entries that have not
// been replayed.
func (s *SQLiteStorage) DeadLetterCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM dead_letters WHERE replayed_at IS NULL`,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return count, nil
}

func scanDeadLetter(row scanner) (*model.DeadLetterEntry, error) {
	var entry model.DeadLetterEntry
	var channel string
	var body sql.NullString
	var draftJSON sql.NullString
	var receivedAt sql.NullTime
	var replayedAt sql.NullTime

	err := row.Scan(
		&entry.Fingerprint,
		&entry.UserID,
		&entry.MessageID,
		&entry.TemplateID,
		&channel,
		&body,
		&entry.AttachmentDigest,
		&draftJSON,
		&entry.LastError,
		&entry.AttemptCount,
		&receivedAt,
		&entry.FirstFailedAt,
		&replayedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Channel = model.SourceChannel(channel)
	if body.Valid {
		entry.Body = body.String
	}
	if draftJSON.Valid {
		var draft model.ExpenseDraft
		if err := json.Unmarshal([]byte(draftJSON.String), &draft); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter draft: %w", err)
		}
		entry.Draft = &draft
	}
	if receivedAt.Valid {
		entry.ReceivedAt = receivedAt.Time
	}
	if replayedAt.Valid {
		t := replayedAt.Time
		entry.ReplayedAt = &t
	}

	return &entry, nil
}
