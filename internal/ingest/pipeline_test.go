package ingest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptflow/receiptflow/internal/common"
	"github.com/receiptflow/receiptflow/internal/extract"
	"github.com/receiptflow/receiptflow/internal/model"
	"github.com/receiptflow/receiptflow/internal/normalize"
	"github.com/receiptflow/receiptflow/internal/redact"
	"github.com/receiptflow/receiptflow/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pipelineEnv struct {
	store    *storage.SQLiteStorage
	backend  *extract.MockBackend
	client   *extract.Client
	pipeline *Pipeline
}

func setupPipeline(t *testing.T, backend *extract.MockBackend) *pipelineEnv {
	t.Helper()

	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.Migrate(context.Background()))

	client := extract.NewClient(extract.Config{
		MaxAttempts: 3,
		RetryDelay:  time.Millisecond,
		RateLimit:   10000,
	}, backend, quietLogger(), nil)
	t.Cleanup(func() { _ = client.Close() })

	classifier, err := normalize.NewKeywordClassifier(normalize.DefaultKeywordRules())
	require.NoError(t, err)
	normalizer := normalize.New(normalize.DefaultConfig(), classifier)

	coordinator := NewCoordinator(store, store, quietLogger())

	return &pipelineEnv{
		store:    store,
		backend:  backend,
		client:   client,
		pipeline: NewPipeline(redact.NewDefaultRedactor(), client, normalizer, coordinator, quietLogger()),
	}
}

func testTask() *Task {
	return &Task{
		Message: model.RawMessage{
			ID:         "msg-1",
			ReceivedAt: time.Date(2025, 9, 2, 10, 30, 0, 0, time.UTC),
			Channel:    model.ChannelEmail,
			Body:       "Cafe ABC $42.50 9/1/2025",
		},
		UserID:     "user-1",
		TemplateID: "receipt-email-v1",
	}
}

func cleanCandidate() model.ExtractionCandidate {
	return model.ExtractionCandidate{
		Date:       time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Amount:     42.50,
		Currency:   "USD",
		Vendor:     "Cafe ABC",
		Category:   "Food & Dining",
		Confidence: 0.95,
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	env := setupPipeline(t, &extract.MockBackend{
		Responses: []extract.MockResponse{{Candidate: cleanCandidate()}},
	})

	task := testTask()
	env.pipeline.Process(context.Background(), task)

	assert.Equal(t, StageDone, task.Stage)
	require.NotNil(t, task.Record)
	assert.Equal(t, model.StatusClean, task.Record.Draft.Status)
	require.NotNil(t, task.Record.Draft.Amount)
	assert.InDelta(t, 42.50, *task.Record.Draft.Amount, 0.001)
	assert.Equal(t, "Cafe ABC", task.Record.Draft.Vendor)
	assert.Equal(t, time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC), task.Record.Draft.Date)
	assert.NotEmpty(t, task.Fingerprint)

	count, err := env.store.DeadLetterCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipelineIdempotentReplay(t *testing.T) {
	env := setupPipeline(t, &extract.MockBackend{
		Responses: []extract.MockResponse{{Candidate: cleanCandidate()}},
	})

	first := testTask()
	env.pipeline.Process(context.Background(), first)
	require.Equal(t, StageDone, first.Stage)

	// A duplicate delivery of the same message produces the same record and
	// never reaches the backend a second time.
	second := testTask()
	second.Message.ID = "msg-1-redelivered"
	env.pipeline.Process(context.Background(), second)
	require.Equal(t, StageDone, second.Stage)

	assert.Equal(t, first.Fingerprint, second.Fingerprint)
	assert.Equal(t, first.Record.ExpenseID, second.Record.ExpenseID)
	assert.Equal(t, 1, env.backend.Calls())

	count, err := env.store.ExpenseCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPipelineDeadLettersOnExhaustion(t *testing.T) {
	env := setupPipeline(t, &extract.MockBackend{
		Responses: []extract.MockResponse{{Err: common.ErrBackendMalformed}},
	})

	task := testTask()
	env.pipeline.Process(context.Background(), task)

	assert.Equal(t, StageDeadLettered, task.Stage)
	assert.Nil(t, task.Record)
	assert.ErrorIs(t, task.Err, common.ErrMaxRetries)
	assert.Equal(t, 3, env.backend.Calls())

	entry, err := env.store.GetDeadLetter(context.Background(), "user-1", task.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Equal(t, "msg-1", entry.MessageID)

	count, err := env.store.ExpenseCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPipelineRecoversAfterTransientFailure(t *testing.T) {
	env := setupPipeline(t, &extract.MockBackend{
		Responses: []extract.MockResponse{
			{Err: common.ErrBackendTimeout},
			{Candidate: cleanCandidate()},
		},
	})

	task := testTask()
	env.pipeline.Process(context.Background(), task)

	assert.Equal(t, StageDone, task.Stage)
	assert.Equal(t, 2, env.backend.Calls())
}

func TestPipelineCancellationDoesNotDeadLetter(t *testing.T) {
	env := setupPipeline(t, &extract.MockBackend{
		Responses: []extract.MockResponse{{Err: common.ErrBackendTimeout}},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task := testTask()
	env.pipeline.Process(ctx, task)

	assert.NotEqual(t, StageDone, task.Stage)
	assert.NotEqual(t, StageDeadLettered, task.Stage)

	count, err := env.store.DeadLetterCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestReplayPreservesFingerprintForAttachments(t *testing.T) {
	env := setupPipeline(t, &extract.MockBackend{
		Responses: []extract.MockResponse{
			{Err: common.ErrBackendTimeout},
			{Err: common.ErrBackendTimeout},
			{Err: common.ErrBackendTimeout},
			{Candidate: cleanCandidate()},
		},
	})
	ctx := context.Background()

	original := testTask()
	original.Message.Attachments = []model.Attachment{
		{Name: "receipt.pdf", Data: []byte("%PDF-1.4 receipt bytes")},
	}
	env.pipeline.Process(ctx, original)
	require.Equal(t, StageDeadLettered, original.Stage)

	entry, err := env.store.GetDeadLetter(ctx, "user-1", original.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, redact.AttachmentDigest(original.Message.Attachments), entry.AttachmentDigest)

	// Replay reconstructs the message without the attachment bytes; the
	// stored digest must yield the identical fingerprint.
	replay := &Task{
		Message:          entry.Message(),
		UserID:           entry.UserID,
		TemplateID:       entry.TemplateID,
		AttachmentDigest: entry.AttachmentDigest,
		Draft:            entry.Draft,
	}
	env.pipeline.Process(ctx, replay)
	require.Equal(t, StageDone, replay.Stage)
	assert.Equal(t, original.Fingerprint, replay.Fingerprint)

	// The record lives under the fingerprint that failed, so a later
	// redelivery of the full original message replays idempotently.
	record, err := env.store.GetByFingerprint(ctx, "user-1", original.Fingerprint)
	require.NoError(t, err)

	redelivered := testTask()
	redelivered.Message.ID = "msg-1-redelivered"
	redelivered.Message.Attachments = original.Message.Attachments
	env.pipeline.Process(ctx, redelivered)
	require.Equal(t, StageDone, redelivered.Stage)
	assert.Equal(t, record.ExpenseID, redelivered.Record.ExpenseID)

	count, err := env.store.ExpenseCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReplayWithPreservedDraftSkipsBackend(t *testing.T) {
	backend := &extract.MockBackend{
		Responses: []extract.MockResponse{{Err: common.ErrBackendTimeout}},
	}
	env := setupPipeline(t, backend)

	amount := 42.50
	task := testTask()
	task.Draft = &model.ExpenseDraft{
		Amount:     &amount,
		Date:       time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC),
		Vendor:     "Cafe ABC",
		Currency:   "USD",
		Category:   "Food & Dining",
		Status:     model.StatusClean,
		Confidence: 0.92,
	}

	env.pipeline.Process(context.Background(), task)

	require.Equal(t, StageDone, task.Stage)
	assert.Equal(t, 0, backend.Calls(), "preserved draft must not hit the backend")
	require.NotNil(t, task.Record)
	assert.Equal(t, "Cafe ABC", task.Record.Draft.Vendor)
}

func TestPipelineRedactsBeforeExtraction(t *testing.T) {
	backend := &extract.MockBackend{
		Responses: []extract.MockResponse{{Candidate: cleanCandidate()}},
	}
	env := setupPipeline(t, backend)

	task := testTask()
	task.Message.Body = "Card 4111 1111 1111 1111 charged $42.50 at Cafe ABC"
	env.pipeline.Process(context.Background(), task)
	require.Equal(t, StageDone, task.Stage)

	// Messages differing only in redacted tokens share a fingerprint.
	other := testTask()
	other.Message.Body = "Card 5500 0000 0000 0004 charged $42.50 at Cafe ABC"
	env.pipeline.Process(context.Background(), other)
	require.Equal(t, StageDone, other.Stage)

	assert.Equal(t, task.Fingerprint, other.Fingerprint)
	assert.Equal(t, 1, backend.Calls())
}
