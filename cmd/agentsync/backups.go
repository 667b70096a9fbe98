package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/backup"
)

var backupsMatch string

// ============================================================================
// agentsync backups / restore / prune
// ============================================================================

var backupsCmd = &cobra.Command{
	Use:               "backups <kind>",
	Short:             "List an agent's snapshots, newest first",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: kindCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		snaps, err := a.coord.Backups(k)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		if backupsMatch != "" {
			if snaps, err = backup.Select(snaps, backupsMatch); err != nil {
				return err
			}
			if len(snaps) == 0 {
				fmt.Printf("No %s snapshots match %q.\n", k, backupsMatch)
				return nil
			}
		}
		if len(snaps) == 0 {
			fmt.Printf("No snapshots for %s yet. One is taken before every write.\n", k)
			return nil
		}
		fmt.Printf("%d snapshot(s) for %s (retention %d):\n", len(snaps), k, a.backups.Retention())
		for _, s := range snaps {
			printSnapshot(s)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <kind> <snapshot|latest|pattern>",
	Short: "Restore a snapshot over an agent's config file",
	Long: `Write a snapshot back over the agent's config file. The current file is
snapshotted first, so a restore can itself be undone. Use 'latest' for the
newest snapshot, or a glob such as 'codex.20261018T*' for the newest match;
'agentsync backups <kind>' lists names.`,
	Args:              cobra.ExactArgs(2),
	ValidArgsFunction: kindCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindArg(args)
		if err != nil {
			return err
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coord.Restore(cmd.Context(), k, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("%s Restored %s from %s\n", okPrefix(), res.Restored.SourcePath, res.Restored.Name())
		if res.Safety != nil {
			fmt.Printf("  Previous content saved as %s\n", res.Safety.Name())
		}
		return nil
	},
}

var pruneKeep int

var pruneCmd = &cobra.Command{
	Use:               "prune <kind>",
	Short:             "Delete all but the newest snapshots",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: kindCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindArg(args)
		if err != nil {
			return err
		}
		if pruneKeep < 0 {
			return fmt.Errorf("--keep must be non-negative")
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := a.coord.Prune(cmd.Context(), k, pruneKeep)
		if err != nil {
			return err
		}
		fmt.Printf("%s Removed %d snapshot(s) for %s\n", okPrefix(), len(removed), k)
		for _, s := range removed {
			printSnapshot(s)
		}
		return nil
	},
}

func init() {
	backupsCmd.Flags().StringVar(&backupsMatch, "match", "", "Only list snapshots whose names match this glob (e.g. codex.20261018T*)")
	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 1, "Number of newest snapshots to keep")
}
