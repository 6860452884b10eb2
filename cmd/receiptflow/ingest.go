package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/receiptflow/receiptflow/internal/ingest"
	"github.com/receiptflow/receiptflow/internal/model"
)

// feedMessage is one line of the JSON-lines ingest feed.
type feedMessage struct {
	ID          string           `json:"id"`
	UserID      string           `json:"user_id"`
	TemplateID  string           `json:"template_id"`
	ReceivedAt  time.Time        `json:"received_at"`
	Channel     string           `json:"channel"`
	Body        string           `json:"body"`
	Attachments []feedAttachment `json:"attachments,omitempty"`
}

type feedAttachment struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <messages.jsonl>",
		Short: "Run messages through the extraction pipeline",
		Long: `Read a JSON-lines feed of raw receipt messages and run each one
through redaction, extraction, normalization, and persistence.

Each line is an object with id, user_id, template_id, received_at,
channel, body, and optional base64 attachments. Re-ingesting a feed
is safe: messages already persisted replay idempotently.`,
		Args: cobra.ExactArgs(1),
		RunE: runIngest,
	}

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	pipeline, client, err := buildPipeline(cfg, store)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	file, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("failed to open feed: %w", err)
	}
	defer func() { _ = file.Close() }()

	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		done         int
		deadLettered int
		incomplete   int
	)

	queue := ingest.NewQueue(cfg.Pipeline.QueueDepth, cfg.Pipeline.Workers, pipeline, slog.Default(), func(task *ingest.Task) {
		mu.Lock()
		switch task.Stage {
		case ingest.StageDone:
			done++
		case ingest.StageDeadLettered:
			deadLettered++
		default:
			incomplete++
		}
		mu.Unlock()
		wg.Done()
	})

	if err := queue.Start(ctx); err != nil {
		return err
	}

	submitted, skipped, err := feedTasks(ctx, file, queue, &wg)
	if err != nil && ctx.Err() == nil {
		return err
	}

	// Wait for everything the queue accepted, unless shutdown was requested —
	// messages still buffered replay idempotently on the next run.
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-ctx.Done():
		slog.Warn("shutdown requested, abandoning queued messages")
	}

	if err := queue.Stop(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("queue shutdown interrupted", "error", err)
	}

	slog.Info("ingest complete",
		"submitted", submitted,
		"skipped", skipped,
		"done", done,
		"dead_lettered", deadLettered,
		"incomplete", incomplete)

	return nil
}

// feedTasks parses and enqueues every line of the feed. Lines that fail to
// parse are skipped with a warning rather than aborting the whole feed.
func feedTasks(ctx context.Context, file *os.File, queue *ingest.Queue, wg *sync.WaitGroup) (submitted, skipped int, err error) {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Warn("skipping unparseable feed line", "line", line, "error", err)
			skipped++
			continue
		}
		if msg.UserID == "" || msg.Body == "" {
			slog.Warn("skipping feed line without user_id or body", "line", line)
			skipped++
			continue
		}

		task, err := taskFromFeed(msg)
		if err != nil {
			slog.Warn("skipping invalid feed line", "line", line, "error", err)
			skipped++
			continue
		}

		wg.Add(1)
		if err := queue.Enqueue(ctx, task); err != nil {
			wg.Done()
			return submitted, skipped, fmt.Errorf("enqueue failed at line %d: %w", line, err)
		}
		submitted++
	}

	if err := scanner.Err(); err != nil {
		return submitted, skipped, fmt.Errorf("failed to read feed: %w", err)
	}
	return submitted, skipped, nil
}

func taskFromFeed(msg feedMessage) (*ingest.Task, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	attachments := make([]model.Attachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, fmt.Errorf("attachment %q: %w", a.Name, err)
		}
		attachments = append(attachments, model.Attachment{Name: a.Name, Data: data})
	}

	return &ingest.Task{
		Message: model.RawMessage{
			ID:          msg.ID,
			ReceivedAt:  msg.ReceivedAt,
			Channel:     model.SourceChannel(msg.Channel),
			Body:        msg.Body,
			Attachments: attachments,
		},
		UserID:     msg.UserID,
		TemplateID: msg.TemplateID,
	}, nil
}
