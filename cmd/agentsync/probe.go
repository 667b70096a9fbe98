package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/lifecycle"
	"github.com/ctrlai/agentsync/internal/probe"
)

// ============================================================================
// agentsync probe / models
// ============================================================================

var probeFlags settingsFlags

var probeCmd = &cobra.Command{
	Use:   "probe <kind>",
	Short: "Test an agent's endpoint and key",
	Long: `Send a model-listing request in the agent's wire protocol and report
whether it worked. Without --endpoint, the endpoint and key from the live
config file are tested.

Failures are reported as one of: auth_failure, network_failure,
endpoint_invalid, timeout.`,
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

		var r probe.Result
		if probeFlags.endpoint == "" {
			r, err = a.coord.ProbeConfigured(cmd.Context(), k)
		} else {
			s, serr := probeFlags.settings(k)
			if serr != nil {
				return serr
			}
			r, err = a.coord.Probe(cmd.Context(), k, s)
		}
		if err != nil {
			return err
		}
		printProbe(r)
		if !r.Success {
			return fmt.Errorf("probe failed: %s", r.Category)
		}
		return nil
	},
}

func init() {
	probeFlags.register(probeCmd, false)
}

var (
	modelsFlags     settingsFlags
	modelsAll       bool
	modelsPageToken string
	modelsMaxPages  int
)

var modelsCmd = &cobra.Command{
	Use:   "models <kind>",
	Short: "List the models an endpoint offers",
	Long: `List models from the agent's endpoint (or --endpoint). Paginated
endpoints return one page at a time; pass the printed token back with
--page-token, or use --all to follow pages.`,
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

		req := lifecycle.ModelsRequest{
			PageToken: modelsPageToken,
			All:       modelsAll,
			MaxPages:  modelsMaxPages,
		}
		if modelsFlags.endpoint != "" {
			req.Settings, err = modelsFlags.settings(k)
			if err != nil {
				return err
			}
		} else {
			req.Settings.APIKey = apiKey(modelsFlags.key)
		}

		page, err := a.coord.Models(cmd.Context(), k, req)
		if err != nil {
			return err
		}
		if !page.Result.Success {
			printProbe(page.Result)
			return fmt.Errorf("listing models failed: %s", page.Result.Category)
		}

		fmt.Printf("%-45s %-35s %s\n", "ID", "NAME", "TAGS")
		fmt.Printf("%-45s %-35s %s\n", "--", "----", "----")
		for _, m := range page.Models {
			fmt.Printf("%-45s %-35s %s\n", m.ID, orDash(m.DisplayName), gray.Sprint(strings.Join(m.Tags, ",")))
		}
		fmt.Printf("\n%d model(s)\n", len(page.Models))
		if page.NextPageToken != "" {
			fmt.Printf("More available: --page-token %s\n", page.NextPageToken)
		}
		return nil
	},
}

func init() {
	modelsFlags.register(modelsCmd, false)
	modelsCmd.Flags().BoolVar(&modelsAll, "all", false, "Follow page tokens")
	modelsCmd.Flags().StringVar(&modelsPageToken, "page-token", "", "Resume a previous listing")
	modelsCmd.Flags().IntVar(&modelsMaxPages, "max-pages", probe.DefaultMaxPages, "Page limit for --all")
}
