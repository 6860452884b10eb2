// Package ingest drives raw messages through the extraction pipeline and
// persists the resulting expense records exactly once per user and
// fingerprint.
package ingest

import "github.com/receiptflow/receiptflow/internal/model"

// Stage is a pipeline processing stage. A task moves strictly forward:
// Queued → Extracting → Normalizing → Persisting → Done or DeadLettered.
type Stage string

// Pipeline stages.
const (
	StageQueued       Stage = "queued"
	StageExtracting   Stage = "extracting"
	StageNormalizing  Stage = "normalizing"
	StagePersisting   Stage = "persisting"
	StageDone         Stage = "done"
	StageDeadLettered Stage = "dead_lettered"
)

// Task is one message travelling through the pipeline. The intake boundary
// supplies the user and the message template; everything else is filled in
// as the task advances. Replay of a dead-lettered message pre-seeds
// AttachmentDigest (the attachments themselves are not stored, but the
// fingerprint must come out identical) and, when one was preserved, Draft.
type Task struct {
	Message    model.RawMessage
	UserID     string
	TemplateID string

	Stage            Stage
	Fingerprint      string
	AttachmentDigest string
	Draft            *model.ExpenseDraft
	Record           *model.ExpenseRecord
	Err              error
}

// Terminal reports whether the task has reached a final stage.
func (t *Task) Terminal() bool {
	return t.Stage == StageDone || t.Stage == StageDeadLettered
}
