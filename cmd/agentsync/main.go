// Package main is the CLI entry point for agentsync, which points local
// coding-agent tools (Claude Code, Codex, Gemini CLI, Amp, OpenCode,
// Factory Droid) at a shared proxy by rewriting their config files.
//
// Every write is preceded by a snapshot, merges into whatever the user
// already has in the file, and is followed by a connectivity probe.
//
// CLI commands (cobra):
//
//	agentsync agents                    - List agents and their live settings
//	agentsync show <kind>               - Show one agent
//	agentsync generate <kind>           - Write endpoint, key, and model
//	agentsync init <kind>               - Write the configured defaults
//	agentsync preview <kind>            - Render without writing
//	agentsync backups <kind>            - List snapshots
//	agentsync restore <kind> <snapshot> - Restore a snapshot (or "latest")
//	agentsync prune <kind>              - Delete old snapshots
//	agentsync probe <kind>              - Test the configured endpoint
//	agentsync models <kind>             - List the endpoint's models
//	agentsync validate <kind>           - Check the live file
//	agentsync manage|unmanage <kind>    - Edit the managed set
//	agentsync switch-mode <mode>        - Regenerate managed agents
//	agentsync history                   - Show, verify, or export history
//	agentsync serve                     - Run the local API
//	agentsync config                    - View/edit configuration
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/config"
	"github.com/ctrlai/agentsync/internal/logging"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-10-18"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// apiKeyEnv supplies the credential when --key is not given.
const apiKeyEnv = "AGENTSYNC_API_KEY"

// defaultConfigDir returns ~/.agentsync/, where config.yaml, managed.yaml,
// history.db, and backups/ live.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".agentsync"
	}
	return filepath.Join(home, ".agentsync")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ============================================================================
// Root command
// ============================================================================

var (
	configDir string
	verbose   bool

	// cfg is loaded once per invocation by the root PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "agentsync",
	Short: "agentsync - keep coding-agent configs pointed at your proxy",
	Long: `agentsync rewrites the provider settings of local coding-agent tools
(Claude Code, Codex, Gemini CLI, Amp, OpenCode, Factory Droid) so they talk
to a local or remote proxy. It only touches the fields it owns, snapshots
every file before writing it, and tests the endpoint afterwards.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(configDir, 0o700); err != nil {
			return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
		}
		loaded, err := config.Load(configPath())
		if err != nil {
			// Still allow `config edit` to fix a broken file.
			if cmd.Parent() != configCmd {
				return fmt.Errorf("failed to load config: %w", err)
			}
			fmt.Fprintf(os.Stderr, "%s %v\n", warnPrefix(), err)
			loaded = config.Default()
		}
		cfg = loaded

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logging.Setup(os.Stderr, level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "Path to agentsync config and state directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(pruneCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(manageCmd)
	rootCmd.AddCommand(unmanageCmd)
	rootCmd.AddCommand(switchModeCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

func configPath() string {
	return filepath.Join(configDir, "config.yaml")
}

// kindArg parses the first positional argument as an agent kind.
func kindArg(args []string) (agent.Kind, error) {
	return agent.Parse(args[0])
}

// kindCompletion offers the supported kinds for the first argument.
func kindCompletion(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var names []string
	for _, k := range agent.All() {
		names = append(names, string(k))
	}
	return names, cobra.ShellCompDirectiveNoFileComp
}
