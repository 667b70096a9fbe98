package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctrlai/agentsync/internal/agent"
)

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestWatcher_FiresCallbacks(t *testing.T) {
	appDir := t.TempDir()
	agentDir := t.TempDir()
	codexPath := filepath.Join(agentDir, "config.toml")

	fired := make(chan string, 16)
	w, err := NewWatcher(appDir, map[agent.Kind]string{agent.Codex: codexPath}, WatchTargets{
		OnConfigChange:    func() { fired <- "config" },
		OnManagedChange:   func() { fired <- "managed" },
		OnAgentFileChange: func(k agent.Kind) { fired <- string(k) },
	})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := os.WriteFile(filepath.Join(appDir, "config.yaml"), []byte("server: {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fired, "config")

	if err := os.WriteFile(filepath.Join(appDir, "managed.yaml"), []byte("managed: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fired, "managed")

	if err := os.WriteFile(codexPath, []byte("model = \"gpt-5\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, fired, string(agent.Codex))
}

func TestWatcher_MissingAgentDirIsSkipped(t *testing.T) {
	appDir := t.TempDir()
	missing := filepath.Join(t.TempDir(), "nope", "settings.json")

	w, err := NewWatcher(appDir, map[agent.Kind]string{agent.ClaudeCode: missing}, WatchTargets{})
	if err != nil {
		t.Fatalf("missing agent directory should not fail the watcher: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close should be a no-op: %v", err)
	}
}
