package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/backup"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/history"
	"github.com/ctrlai/agentsync/internal/lifecycle"
	"github.com/ctrlai/agentsync/internal/probe"
)

// app holds the subsystems one CLI invocation needs.
type app struct {
	paths   agent.Paths
	managed *agent.ManagedSet
	history *history.Store
	backups *backup.Manager
	coord   *lifecycle.Coordinator
}

// appOptions adjusts openApp for long-running commands.
type appOptions struct {
	// OnEvent receives every lifecycle event after it is recorded.
	OnEvent func(lifecycle.Event)
	// Defaults replaces cfg.Defaults, letting serve swap configs on reload.
	Defaults lifecycle.DefaultsFunc
}

// openApp wires the managed set, history, backups, prober, and the
// lifecycle coordinator from the loaded config.
func openApp(opts appOptions) (*app, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("finding home directory: %w", err)
	}

	a := &app{paths: cfg.Paths(home)}

	a.managed, err = agent.NewManagedSet(filepath.Join(configDir, "managed.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load managed set: %w", err)
	}

	a.history, err = history.Open(filepath.Join(configDir, "history.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	a.backups = backup.NewManager(backup.Options{
		Dir:       cfg.BackupDir(configDir),
		Retention: cfg.Backup.Retention,
		Resolve:   a.paths.Resolve,
	})

	defaults := opts.Defaults
	if defaults == nil {
		defaults = cfg.Defaults
	}
	a.coord = lifecycle.New(lifecycle.Options{
		Resolve:  a.paths.Resolve,
		Backups:  a.backups,
		Prober:   probe.New(probe.Options{Timeout: cfg.ProbeTimeout()}),
		Managed:  a.managed,
		Defaults: defaults,
		OnEvent: func(ev lifecycle.Event) {
			a.history.Record(ev)
			if opts.OnEvent != nil {
				opts.OnEvent(ev)
			}
		},
	})
	return a, nil
}

// Close drains queued lifecycle work, then closes history.
func (a *app) Close() {
	a.coord.Close()
	a.history.Close()
}

// --- Output helpers ---

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed, color.Bold)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	gray   = color.New(color.FgHiBlack)
)

func okPrefix() string   { return green.Sprint("[agentsync]") }
func failPrefix() string { return red.Sprint("[agentsync]") }
func warnPrefix() string { return yellow.Sprint("[agentsync]") }

// maskKey hides all but the ends of a credential.
func maskKey(key string) string {
	if key == "" {
		return gray.Sprint("-")
	}
	if len(key) <= 12 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// apiKey returns --key, falling back to $AGENTSYNC_API_KEY.
func apiKey(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(apiKeyEnv)
}

func printProbe(r probe.Result) {
	if r.Success {
		fmt.Printf("%s Probe %s (%d, %s)", okPrefix(), green.Sprint("OK"), r.StatusCode, r.Latency.Round(time.Millisecond))
		if r.Message != "" {
			fmt.Printf(": %s", r.Message)
		}
		fmt.Println()
		return
	}
	fmt.Printf("%s Probe %s: %s", failPrefix(), red.Sprint(strings.ToUpper(string(r.Category))), orDash(r.Message))
	if r.StatusCode != 0 {
		fmt.Printf(" (HTTP %d)", r.StatusCode)
	}
	fmt.Println()
	fmt.Printf("  %s\n", gray.Sprint(probeHint(r.Category)))
}

// probeHint is the one-line advice shown for each failure category.
func probeHint(c probe.Category) string {
	switch c {
	case probe.CategoryAuthFailure:
		return "The endpoint rejected the API key. Check --key or " + apiKeyEnv + "."
	case probe.CategoryTimeout:
		return "The endpoint did not answer in time. Is the proxy running?"
	case probe.CategoryNetworkFailure:
		return "Could not reach the endpoint. Check the URL and that the proxy is up."
	case probe.CategoryEndpointInvalid:
		return "The URL does not look like a model API endpoint."
	}
	return ""
}

func printSnapshot(s backup.Snapshot) {
	fmt.Printf("  %-45s %-25s %8d bytes\n", s.Name(), s.CapturedAt.Local().Format("2006-01-02 15:04:05.000"), s.SizeBytes)
}

func printSettings(p codec.Parsed) {
	fmt.Printf("  Endpoint:   %s\n", orDash(p.EndpointURL))
	fmt.Printf("  API key:    %s\n", maskKey(p.APIKey))
	fmt.Printf("  Model:      %s\n", orDash(p.Model))
	fmt.Printf("  Mode:       %s\n", orDash(string(p.Mode)))
	for _, k := range sortedKeys(p.Extensions) {
		fmt.Printf("  %-11s %s\n", k+":", p.Extensions[k])
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
