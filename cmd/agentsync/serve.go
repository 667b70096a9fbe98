package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/api"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/config"
	"github.com/ctrlai/agentsync/internal/lifecycle"
	"github.com/ctrlai/agentsync/internal/validate"
)

// ============================================================================
// agentsync serve
// ============================================================================

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local API and live event feed",
	Long: `Serve the agentsync REST API and websocket event feed on server.host and
server.port from config.yaml (default 127.0.0.1:8318).

While running, agentsync watches config.yaml, managed.yaml, and every
agent's config directory. Edits to the proxy URLs apply to the next
generate; agent files changed by hand are re-validated and a warning is
logged when they no longer parse.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

// runServe wires the stack and blocks until SIGINT/SIGTERM.
//
//  1. Open the app (managed set, history, backups, coordinator)
//  2. Create the API server and feed it lifecycle events
//  3. Watch config.yaml, managed.yaml, and agent config files
//  4. Listen until a signal arrives, then drain and close
func runServe(cmd *cobra.Command, args []string) error {
	var current atomic.Pointer[config.Config]
	current.Store(cfg)

	var srv *api.Server
	a, err := openApp(appOptions{
		Defaults: func(k agent.Kind, mode codec.Mode) (codec.Settings, error) {
			return current.Load().Defaults(k, mode)
		},
		OnEvent: func(ev lifecycle.Event) {
			if srv != nil {
				srv.Publish(ev)
			}
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	srv = api.New(api.Options{
		Coordinator: a.coord,
		History:     a.history,
		Managed:     a.managed,
		Host:        cfg.Server.Host,
	})
	defer srv.Close()

	agentFiles := make(map[agent.Kind]string)
	for _, k := range agent.All() {
		agentFiles[k] = a.paths.Resolve(k)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configDir, agentFiles, config.WatchTargets{
		OnConfigChange: func() {
			reloaded, err := config.Load(configPath())
			if err != nil {
				slog.Warn("config reload failed, keeping previous config", "error", err)
				return
			}
			current.Store(reloaded)
			slog.Info("config reloaded", "local_url", reloaded.Proxy.LocalURL, "remote_url", reloaded.Proxy.RemoteURL)
		},
		OnManagedChange: func() {
			if err := a.managed.Reload(); err != nil {
				slog.Warn("managed set reload failed", "error", err)
			}
		},
		OnAgentFileChange: func(k agent.Kind) {
			go checkAgentFile(ctx, a.coord, k)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer watcher.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("%s API listening on http://%s\n", okPrefix(), addr)
		fmt.Printf("%s Live events at ws://%s/api/ws\n", okPrefix(), addr)
		fmt.Println("[agentsync] Press Ctrl+C to stop")
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[agentsync] Shutting down...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	fmt.Println("[agentsync] Stopped")
	return nil
}

// checkAgentFile re-validates an agent config after it changed on disk.
func checkAgentFile(ctx context.Context, coord *lifecycle.Coordinator, k agent.Kind) {
	err := coord.Validate(ctx, k)
	var verr *validate.Error
	switch {
	case err == nil:
		slog.Info("agent config changed", "kind", k)
	case errors.Is(err, lifecycle.ErrNotConfigured), errors.Is(err, lifecycle.ErrClosed), errors.Is(err, context.Canceled):
	case errors.As(err, &verr):
		slog.Warn("agent config changed and is no longer valid", "kind", k, "problems", verr.Problems)
	default:
		slog.Warn("agent config changed but could not be checked", "kind", k, "error", err)
	}
}
