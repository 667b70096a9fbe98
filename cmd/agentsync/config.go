package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/config"
)

// ============================================================================
// agentsync config
// ============================================================================

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View and edit agentsync configuration",
	Long: `Manage ~/.agentsync/config.yaml: the proxy URLs written per mode, backup
retention, probe timeout, per-agent path overrides and models, and logging.`,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configPathCmd)
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(configPath())
		if err != nil {
			if os.IsNotExist(err) {
				fmt.Printf("No config file found at %s (defaults in use)\n", configPath())
				fmt.Println("Run 'agentsync config edit' to create one.")
				return nil
			}
			return fmt.Errorf("failed to read config: %w", err)
		}
		fmt.Println(string(data))
		return nil
	},
}

// configEditCmd opens the config file in $EDITOR or $VISUAL, creating a
// commented default first when none exists.
var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config in editor",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath()

		editor := os.Getenv("EDITOR")
		if editor == "" {
			editor = os.Getenv("VISUAL")
		}
		if editor == "" {
			if runtime.GOOS == "windows" {
				editor = "notepad"
			} else {
				editor = "vi"
			}
		}

		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("failed to create default config: %w", err)
			}
		}

		fmt.Printf("[agentsync] Opening %s in %s...\n", path, editor)
		editorCmd := exec.Command(editor, path)
		editorCmd.Stdin = os.Stdin
		editorCmd.Stdout = os.Stdout
		editorCmd.Stderr = os.Stderr
		if err := editorCmd.Run(); err != nil {
			return err
		}

		if _, err := config.Load(path); err != nil {
			return fmt.Errorf("saved config is invalid: %w", err)
		}
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config directory and agent config paths",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		fmt.Printf("config:  %s\n", configPath())
		fmt.Printf("backups: %s\n", cfg.BackupDir(configDir))
		paths := cfg.Paths(home)
		for _, k := range agent.All() {
			fmt.Printf("  %-15s %s\n", k, paths.Resolve(k))
		}
		return nil
	},
}
