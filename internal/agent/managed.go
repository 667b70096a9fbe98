package agent

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// ManagedEntry records that agentsync owns an agent's config file. Kinds
// without an entry are never touched by mode switches.
type ManagedEntry struct {
	Kind      Kind      `yaml:"kind"`
	ManagedAt time.Time `yaml:"managed_at"`
	Note      string    `yaml:"note,omitempty"`
}

// ManagedSet is the persisted set of managed agent kinds (managed.yaml).
//
// Thread-safe. The serve command file-watches managed.yaml and calls
// Reload() when another process (e.g. `agentsync manage`) changes it.
type ManagedSet struct {
	mu      sync.RWMutex
	managed map[Kind]ManagedEntry
	path    string
}

// NewManagedSet loads the managed set from the given YAML file.
// If the file doesn't exist, returns an empty set.
func NewManagedSet(path string) (*ManagedSet, error) {
	ms := &ManagedSet{
		managed: make(map[Kind]ManagedEntry),
		path:    path,
	}
	if err := ms.loadFromFile(); err != nil {
		return nil, err
	}
	return ms, nil
}

// IsManaged reports whether agentsync owns k's config file.
func (ms *ManagedSet) IsManaged(k Kind) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.managed[k]
	return ok
}

// List returns the managed kinds in catalog order.
func (ms *ManagedSet) List() []Kind {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	kinds := make([]Kind, 0, len(ms.managed))
	for _, k := range All() {
		if _, ok := ms.managed[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Manage adds k to the set and persists it. Managing an already managed
// kind is a no-op.
func (ms *ManagedSet) Manage(k Kind, note string) error {
	if !k.Valid() {
		return fmt.Errorf("unknown agent %q", k)
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.managed[k]; ok {
		return nil
	}
	ms.managed[k] = ManagedEntry{Kind: k, ManagedAt: time.Now().UTC(), Note: note}

	slog.Info("agent managed", "agent", k)
	return ms.saveToFile()
}

// Unmanage removes k from the set and persists it. Unmanaging a kind that
// is not managed is a no-op.
func (ms *ManagedSet) Unmanage(k Kind) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, ok := ms.managed[k]; !ok {
		return nil
	}
	delete(ms.managed, k)

	slog.Info("agent unmanaged", "agent", k)
	return ms.saveToFile()
}

// Reload re-reads managed.yaml from disk.
func (ms *ManagedSet) Reload() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.managed = make(map[Kind]ManagedEntry)
	if err := ms.loadFromFile(); err != nil {
		return err
	}

	slog.Info("managed set reloaded", "managed_agents", len(ms.managed))
	return nil
}

// loadFromFile reads managed.yaml. Caller must hold the mutex.
func (ms *ManagedSet) loadFromFile() error {
	data, err := os.ReadFile(ms.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading managed set %s: %w", ms.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []ManagedEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("parsing managed set %s: %w", ms.path, err)
	}

	for _, e := range entries {
		if !e.Kind.Valid() {
			slog.Warn("ignoring unknown agent in managed set", "agent", e.Kind, "path", ms.path)
			continue
		}
		ms.managed[e.Kind] = e
	}
	return nil
}

// saveToFile writes managed.yaml sorted by kind. Caller must hold the mutex.
func (ms *ManagedSet) saveToFile() error {
	if len(ms.managed) == 0 {
		return os.WriteFile(ms.path, []byte(""), 0o644)
	}

	entries := make([]ManagedEntry, 0, len(ms.managed))
	for _, e := range ms.managed {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Kind < entries[j].Kind })

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshaling managed set: %w", err)
	}
	return os.WriteFile(ms.path, data, 0o644)
}
