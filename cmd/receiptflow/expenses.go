package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func expensesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expenses",
		Short: "Query persisted expense records",
	}

	cmd.AddCommand(expensesListCmd())
	cmd.AddCommand(expensesSummaryCmd())

	return cmd
}

func expensesListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's expenses, newest first",
		RunE:  runExpensesList,
	}

	cmd.Flags().String("user", "", "user id (required)")
	cmd.Flags().Int("limit", 50, "maximum records to show")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runExpensesList(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.ListByUser(cmd.Context(), userID, limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No expenses found.")
		return nil
	}

	for _, record := range records {
		amount := "      —"
		if record.Draft.Amount != nil {
			amount = fmt.Sprintf("%7.2f", *record.Draft.Amount)
		}
		fmt.Printf("%s  %s %s  %-24s %-16s %s\n",
			record.Draft.Date.Format("2006-01-02"),
			amount,
			record.Draft.Currency,
			truncate(record.Draft.Vendor, 24),
			truncate(record.Draft.Category, 16),
			record.Draft.Status)
	}

	return nil
}

func expensesSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show spend per category for a date range",
		RunE:  runExpensesSummary,
	}

	cmd.Flags().String("user", "", "user id (required)")
	cmd.Flags().String("start", "", "start date, YYYY-MM-DD (default: 30 days ago)")
	cmd.Flags().String("end", "", "end date, YYYY-MM-DD (default: today)")
	_ = cmd.MarkFlagRequired("user")

	return cmd
}

func runExpensesSummary(cmd *cobra.Command, _ []string) error {
	userID, _ := cmd.Flags().GetString("user")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)

	var err error
	if startStr != "" {
		if start, err = time.Parse("2006-01-02", startStr); err != nil {
			return fmt.Errorf("invalid start date: %w", err)
		}
	}
	if endStr != "" {
		if end, err = time.Parse("2006-01-02", endStr); err != nil {
			return fmt.Errorf("invalid end date: %w", err)
		}
		// Include the whole end day.
		end = end.Add(24*time.Hour - time.Nanosecond)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStorage(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	summary, err := store.CategorySummary(cmd.Context(), userID, start, end)
	if err != nil {
		return err
	}

	if len(summary) == 0 {
		fmt.Println("No expenses in range.")
		return nil
	}

	categories := make([]string, 0, len(summary))
	for category := range summary {
		categories = append(categories, category)
	}
	sort.Strings(categories)

	var total float64
	fmt.Printf("Spend by category, %s to %s:\n\n",
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	for _, category := range categories {
		fmt.Printf("  %-24s %10.2f\n", category, summary[category])
		total += summary[category]
	}
	fmt.Printf("  %-24s %10.2f\n", "Total", total)

	return nil
}

// truncate shortens a string to maxLen runes, never splitting a multibyte
// character.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
