package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/lifecycle"
	"github.com/ctrlai/agentsync/internal/validate"
)

// ============================================================================
// agentsync agents / show
// ============================================================================

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List supported agents with their live settings",
	Long: `List every supported agent tool, where its config file lives, whether
it exists, whether agentsync manages it, and the endpoint and model it
currently points at.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("%-15s %-8s %-8s %-7s %-35s %-25s\n", "AGENT", "CONFIG", "MANAGED", "MODE", "ENDPOINT", "MODEL")
		fmt.Printf("%-15s %-8s %-8s %-7s %-35s %-25s\n", "-----", "------", "-------", "----", "--------", "-----")
		for _, k := range agent.All() {
			res, err := a.coord.Read(cmd.Context(), k)
			if err != nil {
				fmt.Printf("%-15s %s\n", k, red.Sprint(err.Error()))
				continue
			}
			status := gray.Sprintf("%-8s", "missing")
			if res.Configured {
				status = green.Sprintf("%-8s", "found")
			}
			managed := "no"
			if a.managed.IsManaged(k) {
				managed = cyan.Sprint("yes")
			}
			fmt.Printf("%-15s %s %-8s %-7s %-35s %-25s\n",
				k, status, managed, orDash(string(res.Parsed.Mode)), orDash(res.Parsed.EndpointURL), orDash(res.Parsed.Model))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:               "show <kind>",
	Short:             "Show one agent's config file and settings",
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

		info, _ := agent.Lookup(k)
		res, err := a.coord.Read(cmd.Context(), k)
		if err != nil {
			return err
		}

		fmt.Printf("Agent: %s (%s)\n", info.DisplayName, k)
		fmt.Printf("  Path:       %s\n", res.Path)
		fmt.Printf("  Format:     %s\n", info.Format)
		fmt.Printf("  Protocol:   %s\n", info.Protocol)
		fmt.Printf("  Managed:    %v\n", a.managed.IsManaged(k))
		if !res.Configured {
			fmt.Printf("  Status:     %s\n", yellow.Sprint("not configured"))
			return nil
		}
		printSettings(res.Parsed)

		snaps, err := a.coord.Backups(k)
		if err == nil {
			fmt.Printf("  Snapshots:  %d\n", len(snaps))
		}
		return nil
	},
}

// ============================================================================
// agentsync generate / init / preview
// ============================================================================

// settingsFlags are shared by generate, preview, probe, and models.
type settingsFlags struct {
	endpoint   string
	key        string
	model      string
	mode       string
	extensions map[string]string
}

func (f *settingsFlags) register(cmd *cobra.Command, withExtensions bool) {
	cmd.Flags().StringVar(&f.endpoint, "endpoint", "", "Endpoint URL (default: the configured proxy URL for --mode)")
	cmd.Flags().StringVar(&f.key, "key", "", "API key (default: $"+apiKeyEnv+", then the key already in the file)")
	cmd.Flags().StringVar(&f.model, "model", "", "Model ID")
	cmd.Flags().StringVar(&f.mode, "mode", "", "local or remote (default: inferred from the endpoint)")
	if withExtensions {
		cmd.Flags().StringToStringVar(&f.extensions, "ext", nil, "Agent-specific field, as key=value (repeatable)")
	}
}

// settings builds codec.Settings from the flags. With no --endpoint, the
// configured proxy URL for the mode (local by default) is used.
func (f *settingsFlags) settings(k agent.Kind) (codec.Settings, error) {
	s := codec.Settings{
		EndpointURL: f.endpoint,
		APIKey:      apiKey(f.key),
		Model:       f.model,
		Extensions:  f.extensions,
	}
	if f.mode != "" {
		m, err := codec.ParseMode(f.mode)
		if err != nil {
			return codec.Settings{}, err
		}
		s.Mode = m
	}
	if s.EndpointURL == "" {
		mode := s.Mode
		if mode == "" {
			mode = codec.ModeLocal
		}
		d, err := cfg.Defaults(k, mode)
		if err != nil {
			return codec.Settings{}, err
		}
		s.EndpointURL = d.EndpointURL
		s.Mode = mode
		if s.Model == "" {
			s.Model = d.Model
		}
	}
	return s, nil
}

var (
	generateFlags     settingsFlags
	generateSkipProbe bool
	generateReplace   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <kind>",
	Short: "Write endpoint, key, and model into an agent's config",
	Long: `Render the given settings into the agent's config file. Only the fields
agentsync owns are changed; everything else in the file is kept. The
current file is snapshotted first, and the endpoint is probed afterwards.

Examples:
  agentsync generate codex --endpoint http://127.0.0.1:8317/v1 --model gpt-5
  AGENTSYNC_API_KEY=sk-... agentsync generate claude-code --mode remote
  agentsync generate gemini-cli --ext GOOGLE_CLOUD_PROJECT=my-project`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: kindCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindArg(args)
		if err != nil {
			return err
		}
		s, err := generateFlags.settings(k)
		if err != nil {
			return err
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coord.Generate(cmd.Context(), k, s, lifecycle.GenerateOptions{
			SkipProbe: generateSkipProbe,
			Replace:   generateReplace,
		})
		return reportWrite(k, res, err)
	},
}

func init() {
	generateFlags.register(generateCmd, true)
	generateCmd.Flags().BoolVar(&generateSkipProbe, "skip-probe", false, "Do not test the endpoint after writing")
	generateCmd.Flags().BoolVar(&generateReplace, "replace", false, "Overwrite a file that cannot be merged (it is snapshotted first)")
}

var (
	initMode      string
	initSkipProbe bool
)

var initCmd = &cobra.Command{
	Use:   "init <kind>",
	Short: "Write the configured proxy defaults into an agent's config",
	Long: `Write proxy.local_url (or proxy.remote_url with --mode remote) and the
configured model into the agent's config. The model and key already in
the file are kept when the config does not name them.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: kindCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindArg(args)
		if err != nil {
			return err
		}
		mode, err := codec.ParseMode(initMode)
		if err != nil {
			return err
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.coord.GenerateDefault(cmd.Context(), k, mode, lifecycle.GenerateOptions{SkipProbe: initSkipProbe})
		return reportWrite(k, res, err)
	},
}

func init() {
	initCmd.Flags().StringVar(&initMode, "mode", "local", "local or remote")
	initCmd.Flags().BoolVar(&initSkipProbe, "skip-probe", false, "Do not test the endpoint after writing")
}

func reportWrite(k agent.Kind, res lifecycle.WriteResult, err error) error {
	if err != nil {
		if errors.Is(err, codec.ErrUnmergeable) {
			fmt.Fprintf(os.Stderr, "%s the %s config could not be merged; rerun with --replace to overwrite it (a snapshot is kept)\n", warnPrefix(), k)
		}
		return err
	}

	switch {
	case !res.Changed:
		fmt.Printf("%s %s already up to date (%s)\n", okPrefix(), k, res.Path)
	case res.Created:
		fmt.Printf("%s Created %s\n", okPrefix(), res.Path)
	default:
		fmt.Printf("%s Updated %s\n", okPrefix(), res.Path)
	}
	if res.Snapshot != nil {
		fmt.Printf("  Snapshot: %s\n", res.Snapshot.Name())
	}
	if res.Probe != nil {
		printProbe(*res.Probe)
	}
	return nil
}

var (
	previewFlags   settingsFlags
	previewReplace bool
)

var previewCmd = &cobra.Command{
	Use:               "preview <kind>",
	Short:             "Print what generate would write, without writing",
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: kindCompletion,
	RunE: func(cmd *cobra.Command, args []string) error {
		k, err := kindArg(args)
		if err != nil {
			return err
		}
		s, err := previewFlags.settings(k)
		if err != nil {
			return err
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		out, err := a.coord.Preview(cmd.Context(), k, s, lifecycle.GenerateOptions{Replace: previewReplace})
		if err != nil {
			return err
		}
		os.Stdout.Write(out)
		return nil
	},
}

func init() {
	previewFlags.register(previewCmd, true)
	previewCmd.Flags().BoolVar(&previewReplace, "replace", false, "Render a fresh file when the existing one cannot be merged")
}

// ============================================================================
// agentsync validate
// ============================================================================

var validateCmd = &cobra.Command{
	Use:               "validate <kind>",
	Short:             "Check that an agent's live config file is well formed",
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

		err = a.coord.Validate(cmd.Context(), k)
		var verr *validate.Error
		switch {
		case err == nil:
			fmt.Printf("%s %s config is %s\n", okPrefix(), k, green.Sprint("valid"))
			return nil
		case errors.As(err, &verr):
			fmt.Printf("%s %s config is %s:\n", failPrefix(), k, red.Sprint("INVALID"))
			for _, p := range verr.Problems {
				fmt.Printf("  - %s\n", p)
			}
			return fmt.Errorf("%d problem(s) found", len(verr.Problems))
		default:
			return err
		}
	},
}

// ============================================================================
// agentsync manage / unmanage / switch-mode
// ============================================================================

var manageNote string

var manageCmd = &cobra.Command{
	Use:   "manage <kind>",
	Short: "Include an agent in mode switches",
	Long: `Mark an agent as managed. 'agentsync switch-mode' regenerates every
managed agent. A running 'agentsync serve' picks up the change at once.`,
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

		if err := a.managed.Manage(k, manageNote); err != nil {
			return fmt.Errorf("failed to manage %s: %w", k, err)
		}
		fmt.Printf("%s %s is now managed\n", okPrefix(), k)
		return nil
	},
}

func init() {
	manageCmd.Flags().StringVar(&manageNote, "note", "", "Free-form note stored with the entry")
}

var unmanageCmd = &cobra.Command{
	Use:               "unmanage <kind>",
	Short:             "Exclude an agent from mode switches",
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

		if err := a.managed.Unmanage(k); err != nil {
			return fmt.Errorf("failed to unmanage %s: %w", k, err)
		}
		fmt.Printf("%s %s is no longer managed\n", okPrefix(), k)
		return nil
	},
}

var switchSkipProbe bool

var switchModeCmd = &cobra.Command{
	Use:   "switch-mode <local|remote>",
	Short: "Point every managed agent at the local or remote proxy",
	Long: `Regenerate every managed agent for the given mode, using proxy.local_url
or proxy.remote_url from config.yaml. Agents run concurrently; one failing
does not stop the others.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"local", "remote"},
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := codec.ParseMode(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		results := a.coord.SwitchMode(cmd.Context(), mode, lifecycle.GenerateOptions{SkipProbe: switchSkipProbe})
		if len(results) == 0 {
			fmt.Printf("%s No managed agents. Run 'agentsync manage <kind>' first.\n", warnPrefix())
			return nil
		}

		var failed []string
		for _, r := range results {
			if r.Err != nil {
				fmt.Printf("%s %-15s %s\n", failPrefix(), r.Kind, r.Err)
				failed = append(failed, string(r.Kind))
				continue
			}
			state := "updated"
			if !r.Result.Changed {
				state = "unchanged"
			}
			fmt.Printf("%s %-15s %s\n", okPrefix(), r.Kind, state)
			if r.Result.Probe != nil && !r.Result.Probe.Success {
				fmt.Printf("  probe: %s %s\n", red.Sprint(r.Result.Probe.Category), r.Result.Probe.Message)
			}
		}
		if len(failed) > 0 {
			return fmt.Errorf("switch to %s failed for: %s", mode, strings.Join(failed, ", "))
		}
		return nil
	},
}

func init() {
	switchModeCmd.Flags().BoolVar(&switchSkipProbe, "skip-probe", false, "Do not test endpoints after writing")
}
