package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/model"
)

// CreateIfAbsent persists a draft as an expense record exactly once per
// (user, fingerprint). If a record already exists, the existing record is
// returned unchanged: duplicate deliveries and retried pipeline runs are
// idempotent replays. The insert-or-ignore plus read-back runs on a single
// connection, so two workers racing on the same fingerprint cannot both
// insert.
func (s *SQLiteStorage) CreateIfAbsent(ctx context.Context, userID, fingerprint string, draft model.ExpenseDraft) (model.ExpenseRecord, error) {
	if err := validateContext(ctx); err != nil {
		return model.ExpenseRecord{}, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return model.ExpenseRecord{}, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return model.ExpenseRecord{}, err
	}
	if err := validateDraft(&draft); err != nil {
		return model.ExpenseRecord{}, err
	}

	var amount sql.NullFloat64
	if draft.Amount != nil {
		amount = sql.NullFloat64{Float64: *draft.Amount, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (
			expense_id, user_id, fingerprint, date, amount,
			currency, vendor, category, status, confidence, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, fingerprint) DO NOTHING
	`,
		uuid.New().String(),
		userID,
		fingerprint,
		draft.Date,
		amount,
		draft.Currency,
		draft.Vendor,
		draft.Category,
		string(draft.Status),
		draft.Confidence,
		time.Now().UTC(),
	)
	if err != nil {
		return model.ExpenseRecord{}, fmt.Errorf("failed to insert expense: %w", err)
	}

	record, err := s.GetByFingerprint(ctx, userID, fingerprint)
	if err != nil {
		return model.ExpenseRecord{}, fmt.Errorf("failed to read back expense: %w", err)
	}
	return *record, nil
}

// GetByFingerprint retrieves a user's expense record by fingerprint.
// Returns common.ErrNotFound when no record exists.
func (s *SQLiteStorage) GetByFingerprint(ctx context.Context, userID, fingerprint string) (*model.ExpenseRecord, error) {
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
		SELECT expense_id, user_id, fingerprint, date, amount,
		       currency, vendor, category, status, confidence, created_at
		FROM expenses
		WHERE user_id = ? AND fingerprint = ?
	`, userID, fingerprint)

	record, err := scanExpense(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: expense for fingerprint %s", common.ErrNotFound, fingerprint)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}
	return record, nil
}

// ListByUser returns a user's expenses, newest first.
func (s *SQLiteStorage) ListByUser(ctx context.Context, userID string, limit int) ([]model.ExpenseRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT expense_id, user_id, fingerprint, date, amount,
		       currency, vendor, category, status, confidence, created_at
		FROM expenses
		WHERE user_id = ?
		ORDER BY date DESC, created_at DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query expenses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ExpenseRecord
	for rows.Next() {
		record, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		records = append(records, *record)
	}

	return records, rows.Err()
}

// CategorySummary returns total spend per category for a user within a date
// range. Records without an amount are excluded.
func (s *SQLiteStorage) CategorySummary(ctx context.Context, userID string, start, end time.Time) (map[string]float64, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, SUM(amount)
		FROM expenses
		WHERE user_id = ? AND date >= ? AND date <= ? AND amount IS NOT NULL
		GROUP BY category
		ORDER BY category
	`, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query category summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	summary := make(map[string]float64)
	for rows.Next() {
		var category string
		var total float64
		if err := rows.Scan(&category, &total); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		summary[category] = total
	}

	return summary, rows.Err()
}

// ExpenseCount returns the total number of persisted expenses.
func (s *SQLiteStorage) ExpenseCount(ctx context.Context) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM expenses`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expenses: %w", err)
	}
	return count, nil
}

// scanner abstracts sql.Row and sql.Rows for scanExpense.
type scanner interface {
	Scan(dest ...any) error
}

func scanExpense(row scanner) (*model.ExpenseRecord, error) {
	var record model.ExpenseRecord
	var amount sql.NullFloat64
	var vendor sql.NullString
	var statusStr string

	err := row.Scan(
		&record.ExpenseID,
		&record.UserID,
		&record.Fingerprint,
		&record.Draft.Date,
		&amount,
		&record.Draft.Currency,
		&vendor,
		&record.Draft.Category,
		&statusStr,
		&record.Draft.Confidence,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if amount.Valid {
		record.Draft.Amount = &amount.Float64
	}
	if vendor.Valid {
		record.Draft.Vendor = vendor.String
	}
	record.Draft.Status = model.ValidationStatus(statusStr)

	return &record, nil
}
