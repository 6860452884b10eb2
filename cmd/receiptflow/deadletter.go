package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/receiptflow/receiptflow/internal/ingest"
)

func deadletterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered messages",
		Long:  `List messages that exhausted the pipeline and replay them once the backend recovers.`,
	}

	cmd.AddCommand(deadletterListCmd())
	cmd.AddCommand(deadletterReplayCmd())

	return cmd
}

func deadletterListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered messages",
		RunE:  runDeadletterList,
	}

	cmd.Flags().Bool("all", false, "Include entries that have already been replayed")

	return cmd
}

func runDeadletterList(cmd *cobra.Command, _ []string) error {
	includeReplayed, _ := cmd.Flags().GetBool("all")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.ListDeadLetters(cmd.Context(), includeReplayed)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No dead-lettered messages.")
		return nil
	}

	for _, entry := range entries {
		state := "pending"
		if entry.ReplayedAt != nil {
			state = fmt.Sprintf("replayed %s", entry.ReplayedAt.Format("2006-01-02 15:04"))
		}
		fmt.Printf("%s  user=%s  attempts=%d  first_failed=%s  [%s]\n  %s\n",
			entry.MessageID,
			entry.UserID,
			entry.AttemptCount,
			entry.FirstFailedAt.Format("2006-01-02 15:04"),
			state,
			entry.LastError)
	}

	return nil
}

func deadletterReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay dead-lettered messages through the pipeline",
		Long: `Re-run every pending dead-lettered message through the full pipeline.
Entries that complete are marked replayed; entries that fail again stay
in the dead-letter queue with an updated attempt count.`,
		RunE: runDeadletterReplay,
	}
}

func runDeadletterReplay(cmd *cobra.Command, _ []string) error {
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

	pipeline, client, err := buildPipeline(cfg, store)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	entries, err := store.ListDeadLetters(ctx, false)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No dead-lettered messages to replay.")
		return nil
	}

	bar := progressbar.NewOptions(len(entries),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Replaying dead letters..."),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(os.Stderr)
		}),
	)

	replayed := 0
	stillFailing := 0

	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// The stored digest stands in for the attachments so the replay
		// fingerprint matches the one that failed; a preserved draft lets
		// persistence-failure entries skip re-extraction entirely.
		task := &ingest.Task{
			Message:          entry.Message(),
			UserID:           entry.UserID,
			TemplateID:       entry.TemplateID,
			AttachmentDigest: entry.AttachmentDigest,
			Draft:            entry.Draft,
		}

		pipeline.Process(ctx, task)

		if task.Stage == ingest.StageDone {
			if err := store.MarkReplayed(context.WithoutCancel(ctx), entry.UserID, entry.Fingerprint); err != nil {
				slog.Warn("failed to mark entry replayed",
					"message_id", entry.MessageID,
					"error", err)
			} else {
				replayed++
			}
		} else {
			stillFailing++
		}

		_ = bar.Add(1)
	}

	slog.Info("replay complete",
		"replayed", replayed,
		"still_failing", stillFailing)

	return nil
}
