package model

import "time"

// ValidationStatus indicates how much of a draft survived validation intact.
type ValidationStatus string

// Validation status constants.
const (
	StatusClean       ValidationStatus = "CLEAN"
	StatusDefaulted   ValidationStatus = "DEFAULTED"
	StatusNeedsReview ValidationStatus = "NEEDS_REVIEW"
)

// ExpenseDraft is the canonical, validated form of an ExtractionCandidate,
// ready for persistence. Amount is nil when the candidate amount failed
// validation.
type ExpenseDraft struct {
	Amount     *float64
	Date       time.Time
	Vendor     string
	Currency   string
	Category   string
	Status     ValidationStatus
	Confidence float64
}

// ExpenseRecord is a persisted expense. At most one record exists per
// (user, fingerprint) pair.
type ExpenseRecord struct {
	CreatedAt   time.Time
	ExpenseID   string
	UserID      string
	Fingerprint string
	Draft       ExpenseDraft
}

// DeadLetterEntry captures a message that could not complete the pipeline,
// with enough context for manual or automated replay.
type DeadLetterEntry struct {
	FirstFailedAt time.Time
	ReceivedAt    time.Time
	ReplayedAt    *time.Time
	Draft         *ExpenseDraft
	Fingerprint   string
	MessageID     string
	UserID        string
	TemplateID    string
	Channel       SourceChannel
	Body          string
	LastError     string
	// AttachmentDigest preserves the fingerprint input for messages whose
	// attachments are not stored; replay must derive the identical
	// fingerprint the original message failed under.
	AttachmentDigest string
	AttemptCount     int
}

// Message reconstructs the original raw message for replay.
func (e *DeadLetterEntry) Message() RawMessage {
	return RawMessage{
		ID:         e.MessageID,
		ReceivedAt: e.ReceivedAt,
		Channel:    e.Channel,
		Body:       e.Body,
	}
}
