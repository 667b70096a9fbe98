package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ctrlai/agentsync/internal/agent"
)

// WatchTargets holds callbacks that fire when watched files change. The
// serve command sets them at startup.
type WatchTargets struct {
	// OnConfigChange fires when config.yaml is written or created.
	OnConfigChange func()

	// OnManagedChange fires when managed.yaml is written or created, so a
	// running server picks up `agentsync manage` from another process.
	OnManagedChange func()

	// OnAgentFileChange fires when an agent's config file is written,
	// created or replaced, whether by agentsync or by hand.
	OnAgentFileChange func(agent.Kind)
}

// Watcher monitors the agentsync directory and the directories holding
// agent config files. Call Close to stop it.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	agents    map[string]agent.Kind // Cleaned file path to kind.
	done      chan struct{}
}

// NewWatcher watches dir (config.yaml, managed.yaml) and the parent
// directory of every path in agentFiles. Agent directories that do not
// exist yet are skipped.
func NewWatcher(dir string, agentFiles map[agent.Kind]string, targets WatchTargets) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		agents:    make(map[string]agent.Kind),
		done:      make(chan struct{}),
	}

	watched := map[string]bool{filepath.Clean(dir): true}
	for k, path := range agentFiles {
		clean := filepath.Clean(path)
		w.agents[clean] = k
		parent := filepath.Dir(clean)
		if watched[parent] {
			continue
		}
		if _, err := os.Stat(parent); err != nil {
			slog.Debug("agent config directory missing, not watching", "kind", k, "dir", parent)
			continue
		}
		if err := fw.Add(parent); err != nil {
			slog.Warn("cannot watch agent config directory", "kind", k, "dir", parent, "error", err)
			continue
		}
		watched[parent] = true
	}

	go w.processEvents(filepath.Clean(dir), targets)

	slog.Info("file watcher started", "dir", dir, "directories", len(watched))
	return w, nil
}

// processEvents dispatches fsnotify events until Close is called.
func (w *Watcher) processEvents(dir string, targets WatchTargets) {
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			// Atomic replaces arrive as Create on the final name.
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name := filepath.Clean(event.Name)

			if k, ok := w.agents[name]; ok {
				slog.Debug("agent config changed", "kind", k, "path", name)
				if targets.OnAgentFileChange != nil {
					targets.OnAgentFileChange(k)
				}
				continue
			}

			if filepath.Dir(name) != dir {
				continue
			}
			switch filepath.Base(name) {
			case "config.yaml":
				slog.Info("config.yaml changed, triggering reload")
				if targets.OnConfigChange != nil {
					targets.OnConfigChange()
				}
			case "managed.yaml":
				slog.Info("managed.yaml changed, triggering reload")
				if targets.OnManagedChange != nil {
					targets.OnManagedChange()
				}
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("file watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
