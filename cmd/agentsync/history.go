package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/history"
)

// ============================================================================
// agentsync history
// ============================================================================

var (
	historyAgent   string
	historyOp      string
	historyOutcome string
	historySince   string
	historyLimit   int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show what agentsync changed, newest first",
	Long: `Every generate, restore, prune, and probe is recorded in history.db.
Entries are hash-chained; 'agentsync history verify' detects edits.

Examples:
  agentsync history --agent codex --since 24h
  agentsync history --outcome failure --limit 10`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.Query(history.QueryParams{
			Agent:   historyAgent,
			Op:      historyOp,
			Outcome: historyOutcome,
			Since:   historySince,
			Limit:   historyLimit,
		})
		if err != nil {
			return fmt.Errorf("history query failed: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No matching history entries found.")
			return nil
		}
		for _, e := range entries {
			printHistoryEntry(e)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyAgent, "agent", "", "Filter by agent kind")
	historyCmd.Flags().StringVar(&historyOp, "op", "", "Filter by operation (generate, restore, prune, probe)")
	historyCmd.Flags().StringVar(&historyOutcome, "outcome", "", "Filter by outcome (success, failure, unchanged)")
	historyCmd.Flags().StringVar(&historySince, "since", "", "Entries since a duration (24h) or RFC 3339 time")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum number of entries")

	historyCmd.AddCommand(historyVerifyCmd)
	historyCmd.AddCommand(historyExportCmd)
}

var historyVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the history hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := store.Verify()
		if err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
		if result.Valid {
			fmt.Printf("%s Hash chain VALID (%d entries verified)\n", okPrefix(), result.EntriesChecked)
			return nil
		}
		fmt.Printf("%s Hash chain BROKEN at entry #%d\n", failPrefix(), result.BrokenAtSeq)
		fmt.Printf("  Expected hash: %s\n", result.ExpectedHash)
		fmt.Printf("  Actual hash:   %s\n", result.ActualHash)
		return fmt.Errorf("history integrity violation detected")
	},
}

var historyExportFormat string

var historyExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full history to stdout",
	Long: `Export every history entry, oldest first, as csv, json, or jsonl.

Example:
  agentsync history export --format csv > history.csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Export(os.Stdout, historyExportFormat)
	},
}

func init() {
	historyExportCmd.Flags().StringVar(&historyExportFormat, "format", "jsonl", "Export format: csv, json, jsonl")
}

func openHistory() (*history.Store, error) {
	store, err := history.Open(filepath.Join(configDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	return store, nil
}

func printHistoryEntry(e history.Entry) {
	outcome := e.Outcome
	switch outcome {
	case "success":
		outcome = green.Sprintf("%-9s", outcome)
	case "failure":
		outcome = red.Sprintf("%-9s", outcome)
	default:
		outcome = gray.Sprintf("%-9s", outcome)
	}
	fmt.Printf("[%s] %-15s %-9s %s", e.Timestamp, e.Agent, e.Op, outcome)
	if e.Category != "" {
		fmt.Printf(" %s", yellow.Sprint(e.Category))
	}
	if e.Snapshot != "" {
		fmt.Printf(" snapshot=%s", e.Snapshot)
	}
	if e.Message != "" {
		fmt.Printf(" %s", gray.Sprint(e.Message))
	}
	fmt.Println()
}
