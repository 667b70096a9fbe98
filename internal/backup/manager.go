// Package backup keeps timestamped copies of agent configuration files so
// that every write agentsync makes can be undone.
//
// Storage layout:
//
//	~/.agentsync/backups/
//	├── claude-code/
//	│   ├── claude-code.20261018T203100.123456789.bak
//	│   └── claude-code.20261018T203512.000000001.bak
//	└── codex/
//	    └── codex.20261018T203100.500000000.bak
//
// The capture time is encoded in the file name, so listing needs no index.
// Capture times are strictly increasing per kind, also across restarts:
// a new snapshot is always named after the newest one already on disk, so
// a clock stepped backwards cannot make it the first to be pruned.
package backup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/glob"

	"github.com/ctrlai/agentsync/internal/agent"
)

// DefaultRetention is the number of snapshots kept per agent kind.
const DefaultRetention = 5

// timeLayout is sortable as text and has nanosecond resolution.
const timeLayout = "20060102T150405.000000000"

const snapshotExt = ".bak"

// ErrSnapshotNotFound means the snapshot's backing file does not exist.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one backup copy of an agent's config file.
type Snapshot struct {
	Kind        agent.Kind `json:"kind" yaml:"kind"`
	SourcePath  string     `json:"source_path" yaml:"source_path"`
	CapturedAt  time.Time  `json:"captured_at" yaml:"captured_at"`
	StoragePath string     `json:"storage_path" yaml:"storage_path"`
	SizeBytes   int64      `json:"size_bytes" yaml:"size_bytes"`
}

// Name is the snapshot's file name, which identifies it within its kind.
func (s Snapshot) Name() string {
	return filepath.Base(s.StoragePath)
}

// Options configures a Manager.
type Options struct {
	// Dir is the root backup directory. One subdirectory per kind.
	Dir string
	// Retention caps the snapshots kept per kind. Zero means DefaultRetention.
	Retention int
	// Resolve maps a kind to its live config file path.
	Resolve func(agent.Kind) string
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Manager creates, lists, restores, and prunes snapshots.
//
// Safe for concurrent use across kinds. Callers serialize operations on the
// same kind (the lifecycle coordinator does).
type Manager struct {
	dir       string
	retention int
	resolve   func(agent.Kind) string
	now       func() time.Time

	mu   sync.Mutex
	last map[agent.Kind]time.Time
}

// NewManager creates a Manager rooted at opts.Dir.
func NewManager(opts Options) *Manager {
	m := &Manager{
		dir:       opts.Dir,
		retention: opts.Retention,
		resolve:   opts.Resolve,
		now:       opts.Now,
		last:      make(map[agent.Kind]time.Time),
	}
	if m.retention <= 0 {
		m.retention = DefaultRetention
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Retention returns the per-kind snapshot cap.
func (m *Manager) Retention() int { return m.retention }

// Dir returns the root backup directory.
func (m *Manager) Dir() string { return m.dir }

func (m *Manager) kindDir(k agent.Kind) string {
	return filepath.Join(m.dir, string(k))
}

// nextCaptureTime returns a capture time strictly after both the previous
// one handed out for k and newest, the latest capture time on disk.
func (m *Manager) nextCaptureTime(k agent.Kind, newest time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.last[k]
	if newest.After(last) {
		last = newest
	}
	ts := m.now().UTC()
	if !last.IsZero() && !ts.After(last) {
		ts = last.Add(time.Nanosecond)
	}
	m.last[k] = ts
	return ts
}

// newestOnDisk returns the capture time of k's newest snapshot, or the zero
// time when there is none.
func (m *Manager) newestOnDisk(k agent.Kind) (time.Time, error) {
	snaps, err := m.List(k)
	if err != nil {
		return time.Time{}, err
	}
	if len(snaps) == 0 {
		return time.Time{}, nil
	}
	return snaps[0].CapturedAt, nil
}

// Snapshot copies k's live config file into the backup directory and then
// prunes the oldest snapshots beyond the retention cap. Returns nil (and no
// error) when the live file does not exist yet.
func (m *Manager) Snapshot(k agent.Kind) (*Snapshot, error) {
	src := m.resolve(k)
	data, err := os.ReadFile(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s for backup: %w", src, err)
	}

	dir := m.kindDir(k)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating backup directory %s: %w", dir, err)
	}

	newest, err := m.newestOnDisk(k)
	if err != nil {
		return nil, err
	}

	var (
		f  *os.File
		ts time.Time
	)
	// O_EXCL guards against another process that picked the same name.
	for attempt := 0; ; attempt++ {
		ts = m.nextCaptureTime(k, newest)
		f, err = os.OpenFile(m.storagePath(k, ts), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) || attempt >= 16 {
			return nil, fmt.Errorf("creating snapshot for %s: %w", k, err)
		}
	}

	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("syncing snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("closing snapshot %s: %w", path, err)
	}

	snap := &Snapshot{
		Kind:        k,
		SourcePath:  src,
		CapturedAt:  ts,
		StoragePath: path,
		SizeBytes:   int64(len(data)),
	}
	slog.Info("config snapshot created", "agent", k, "snapshot", snap.Name(), "bytes", snap.SizeBytes)

	if _, err := m.prune(k, m.retention, snap.Name()); err != nil {
		slog.Warn("snapshot retention pruning failed", "agent", k, "error", err)
	}
	return snap, nil
}

func (m *Manager) storagePath(k agent.Kind, ts time.Time) string {
	return filepath.Join(m.kindDir(k), string(k)+"."+ts.Format(timeLayout)+snapshotExt)
}

// List returns k's snapshots, newest first. A missing backup directory
// yields an empty list.
func (m *Manager) List(k agent.Kind) ([]Snapshot, error) {
	dir := m.kindDir(k)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading backup directory %s: %w", dir, err)
	}

	src := m.resolve(k)
	var snaps []Snapshot
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ts, ok := parseCaptureTime(k, e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		snaps = append(snaps, Snapshot{
			Kind:        k,
			SourcePath:  src,
			CapturedAt:  ts,
			StoragePath: filepath.Join(dir, e.Name()),
			SizeBytes:   info.Size(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CapturedAt.After(snaps[j].CapturedAt)
	})
	return snaps, nil
}

func parseCaptureTime(k agent.Kind, name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, string(k)+"."), snapshotExt)
	ts, err := time.ParseInLocation(timeLayout, stamp, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// IsPattern reports whether sel is a glob selector rather than an exact
// snapshot name.
func IsPattern(sel string) bool {
	return strings.ContainsAny(sel, "*?[{")
}

// Select returns the snapshots whose names match the glob pattern, keeping
// the order of snaps. "codex.20261018T*" selects one day of codex
// snapshots; "{a,b}" alternation and "[0-9]" classes work too.
func Select(snaps []Snapshot, pattern string) ([]Snapshot, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot pattern %q: %w", pattern, err)
	}
	var out []Snapshot
	for _, s := range snaps {
		if g.Match(s.Name()) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Find returns one of k's snapshots. sel is an exact file name, "latest"
// for the newest snapshot, or a glob pattern (see Select) whose newest
// match is returned.
func (m *Manager) Find(k agent.Kind, sel string) (Snapshot, error) {
	snaps, err := m.List(k)
	if err != nil {
		return Snapshot{}, err
	}
	switch {
	case sel == "latest":
		if len(snaps) == 0 {
			return Snapshot{}, fmt.Errorf("%w: %s has no snapshots", ErrSnapshotNotFound, k)
		}
		return snaps[0], nil
	case IsPattern(sel):
		matched, err := Select(snaps, sel)
		if err != nil {
			return Snapshot{}, err
		}
		if len(matched) == 0 {
			return Snapshot{}, fmt.Errorf("%w: no %s snapshot matches %q", ErrSnapshotNotFound, k, sel)
		}
		return matched[0], nil
	}
	for _, s := range snaps {
		if s.Name() == sel {
			return s, nil
		}
	}
	return Snapshot{}, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, k, sel)
}

// Load reads a snapshot's content.
func (m *Manager) Load(s Snapshot) ([]byte, error) {
	data, err := os.ReadFile(s.StoragePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, s.StoragePath)
		}
		return nil, fmt.Errorf("reading snapshot %s: %w", s.StoragePath, err)
	}
	return data, nil
}

// WriteBack atomically replaces the snapshot's source file with data
// previously returned by Load.
func (m *Manager) WriteBack(s Snapshot, data []byte) error {
	dst := s.SourcePath
	if dst == "" {
		dst = m.resolve(s.Kind)
	}
	if err := WriteFileAtomic(dst, data, 0o600); err != nil {
		return fmt.Errorf("restoring %s: %w", dst, err)
	}
	slog.Info("config restored from snapshot", "agent", s.Kind, "snapshot", s.Name(), "path", dst)
	return nil
}

// Restore copies a snapshot back over its source file atomically. A
// snapshot whose backing file is gone returns ErrSnapshotNotFound and the
// live file is not touched.
func (m *Manager) Restore(s Snapshot) error {
	data, err := m.Load(s)
	if err != nil {
		return err
	}
	return m.WriteBack(s, data)
}

// Delete removes one snapshot.
func (m *Manager) Delete(s Snapshot) error {
	if err := os.Remove(s.StoragePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, s.StoragePath)
		}
		return fmt.Errorf("deleting snapshot %s: %w", s.StoragePath, err)
	}
	return nil
}

// Prune deletes k's oldest snapshots so that at most keep remain, and
// returns what it deleted.
func (m *Manager) Prune(k agent.Kind, keep int) ([]Snapshot, error) {
	return m.prune(k, keep, "")
}

// prune is Prune that never deletes the snapshot named protect.
func (m *Manager) prune(k agent.Kind, keep int, protect string) ([]Snapshot, error) {
	if keep < 0 {
		keep = 0
	}
	snaps, err := m.List(k)
	if err != nil {
		return nil, err
	}
	if len(snaps) <= keep {
		return nil, nil
	}

	var removed []Snapshot
	var errs []error
	for _, s := range snaps[keep:] {
		if s.Name() == protect {
			continue
		}
		if err := os.Remove(s.StoragePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, s)
	}
	if len(removed) > 0 {
		slog.Debug("pruned snapshots", "agent", k, "removed", len(removed), "kept", keep)
	}
	return removed, errors.Join(errs...)
}
