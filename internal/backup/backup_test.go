package backup

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ctrlai/agentsync/internal/agent"
)

// newTestManager returns a manager whose live files live under a temp home
// and whose clock is frozen, so every capture time comes from the
// tie-break path.
func newTestManager(t *testing.T, retention int) (*Manager, agent.Paths) {
	t.Helper()
	home := t.TempDir()
	paths := agent.Paths{Home: home}
	frozen := time.Date(2026, 10, 18, 20, 31, 0, 0, time.UTC)
	m := NewManager(Options{
		Dir:       filepath.Join(t.TempDir(), "backups"),
		Retention: retention,
		Resolve:   paths.Resolve,
		Now:       func() time.Time { return frozen },
	})
	return m, paths
}

func writeLive(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshot_MissingSourceIsNoop(t *testing.T) {
	m, _ := newTestManager(t, 3)

	snap, err := m.Snapshot(agent.Codex)
	if err != nil {
		t.Fatalf("snapshot of missing file should not error: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot, got %+v", snap)
	}
	list, _ := m.List(agent.Codex)
	if len(list) != 0 {
		t.Errorf("expected no snapshots, got %d", len(list))
	}
}

func TestSnapshot_CopiesContent(t *testing.T) {
	m, paths := newTestManager(t, 3)
	live := paths.Resolve(agent.ClaudeCode)
	writeLive(t, live, `{"env":{}}`)

	snap, err := m.Snapshot(agent.ClaudeCode)
	if err != nil {
		t.Fatal(err)
	}
	if snap.SourcePath != live {
		t.Errorf("source path: expected %q, got %q", live, snap.SourcePath)
	}
	if snap.SizeBytes != int64(len(`{"env":{}}`)) {
		t.Errorf("size: got %d", snap.SizeBytes)
	}
	data, err := os.ReadFile(snap.StoragePath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"env":{}}` {
		t.Errorf("snapshot content: got %q", data)
	}
}

func TestSnapshot_SameTickDoesNotCollide(t *testing.T) {
	m, paths := newTestManager(t, 10)
	writeLive(t, paths.Resolve(agent.Amp), "{}")

	a, err := m.Snapshot(agent.Amp)
	if err != nil {
		t.Fatal(err)
	}
	b, err := m.Snapshot(agent.Amp)
	if err != nil {
		t.Fatal(err)
	}
	if a.StoragePath == b.StoragePath {
		t.Fatal("two snapshots in the same tick share a path")
	}
	if !b.CapturedAt.After(a.CapturedAt) {
		t.Errorf("capture times should be strictly increasing: %v then %v", a.CapturedAt, b.CapturedAt)
	}
}

// Five successive writes against a cap of three leave the three newest.
func TestRetention_FiveWritesCapThree(t *testing.T) {
	m, paths := newTestManager(t, 3)
	live := paths.Resolve(agent.Codex)

	var all []*Snapshot
	for i := 0; i < 5; i++ {
		writeLive(t, live, string(rune('a'+i)))
		s, err := m.Snapshot(agent.Codex)
		if err != nil {
			t.Fatal(err)
		}
		all = append(all, s)

		list, _ := m.List(agent.Codex)
		if len(list) > 3 {
			t.Fatalf("after write %d: %d snapshots exceed cap", i+1, len(list))
		}
	}

	list, err := m.List(agent.Codex)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(list))
	}
	// Newest first: snapshots 5, 4, 3.
	for i, want := range []*Snapshot{all[4], all[3], all[2]} {
		if list[i].StoragePath != want.StoragePath {
			t.Errorf("position %d: expected %s, got %s", i, want.Name(), list[i].Name())
		}
	}
	for _, gone := range all[:2] {
		if _, err := os.Stat(gone.StoragePath); !os.IsNotExist(err) {
			t.Errorf("old snapshot %s should have been pruned", gone.Name())
		}
	}
}

func TestList_IgnoresForeignFiles(t *testing.T) {
	m, paths := newTestManager(t, 3)
	writeLive(t, paths.Resolve(agent.GeminiCLI), "A=1\n")
	if _, err := m.Snapshot(agent.GeminiCLI); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(m.Dir(), string(agent.GeminiCLI))
	for _, name := range []string{"notes.txt", "gemini-cli.garbage.bak", "codex.20260101T000000.000000000.bak"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	list, err := m.List(agent.GeminiCLI)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 snapshot, got %d: %+v", len(list), list)
	}
}

func TestRestore_ReproducesBytes(t *testing.T) {
	m, paths := newTestManager(t, 3)
	live := paths.Resolve(agent.OpenCode)
	original := "{\n  \"theme\": \"dark\"\n}\n"
	writeLive(t, live, original)

	snap, err := m.Snapshot(agent.OpenCode)
	if err != nil {
		t.Fatal(err)
	}
	writeLive(t, live, `{"overwritten": true}`)

	if err := m.Restore(*snap); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(live)
	if string(data) != original {
		t.Errorf("restore mismatch: expected %q, got %q", original, data)
	}
}

func TestRestore_MissingSnapshotLeavesLiveFile(t *testing.T) {
	m, paths := newTestManager(t, 3)
	live := paths.Resolve(agent.FactoryDroid)
	writeLive(t, live, "before")

	snap, err := m.Snapshot(agent.FactoryDroid)
	if err != nil {
		t.Fatal(err)
	}
	writeLive(t, live, "after")
	if err := os.Remove(snap.StoragePath); err != nil {
		t.Fatal(err)
	}

	err = m.Restore(*snap)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
	data, _ := os.ReadFile(live)
	if string(data) != "after" {
		t.Errorf("live file should be untouched, got %q", data)
	}
}

func TestFind(t *testing.T) {
	m, paths := newTestManager(t, 5)
	writeLive(t, paths.Resolve(agent.Codex), "x")
	first, _ := m.Snapshot(agent.Codex)
	second, _ := m.Snapshot(agent.Codex)

	latest, err := m.Find(agent.Codex, "latest")
	if err != nil {
		t.Fatal(err)
	}
	if latest.StoragePath != second.StoragePath {
		t.Errorf("latest: expected %s, got %s", second.Name(), latest.Name())
	}
	byName, err := m.Find(agent.Codex, first.Name())
	if err != nil {
		t.Fatal(err)
	}
	if !byName.CapturedAt.Equal(first.CapturedAt) {
		t.Errorf("capture time parsed from name: expected %v, got %v", first.CapturedAt, byName.CapturedAt)
	}
	if _, err := m.Find(agent.Amp, "latest"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound for kind without snapshots, got %v", err)
	}
}

func TestSnapshot_ClockSteppedBackAcrossRestart(t *testing.T) {
	home := t.TempDir()
	paths := agent.Paths{Home: home}
	dir := filepath.Join(t.TempDir(), "backups")
	writeLive(t, paths.Resolve(agent.Codex), "v1")

	later := time.Date(2026, 10, 18, 13, 0, 0, 0, time.UTC)
	first := NewManager(Options{Dir: dir, Retention: 3, Resolve: paths.Resolve, Now: func() time.Time { return later }})
	for i := 0; i < 3; i++ {
		if _, err := first.Snapshot(agent.Codex); err != nil {
			t.Fatal(err)
		}
	}

	// A fresh manager whose clock reads an hour earlier.
	earlier := later.Add(-time.Hour)
	second := NewManager(Options{Dir: dir, Retention: 3, Resolve: paths.Resolve, Now: func() time.Time { return earlier }})
	writeLive(t, paths.Resolve(agent.Codex), "v2")
	snap, err := second.Snapshot(agent.Codex)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(snap.StoragePath); err != nil {
		t.Fatalf("new snapshot should survive retention: %v", err)
	}
	if !snap.CapturedAt.After(later) {
		t.Errorf("capture time should follow the newest on disk: got %v", snap.CapturedAt)
	}

	latest, err := second.Find(agent.Codex, "latest")
	if err != nil {
		t.Fatal(err)
	}
	if latest.Name() != snap.Name() {
		t.Errorf("latest: expected %s, got %s", snap.Name(), latest.Name())
	}
	writeLive(t, paths.Resolve(agent.Codex), "v3")
	if err := second.Restore(*snap); err != nil {
		t.Fatalf("restore of the new snapshot: %v", err)
	}
	data, _ := os.ReadFile(paths.Resolve(agent.Codex))
	if string(data) != "v2" {
		t.Errorf("expected restored content %q, got %q", "v2", data)
	}
	list, _ := second.List(agent.Codex)
	if len(list) != 3 {
		t.Errorf("expected 3 snapshots after retention, got %d", len(list))
	}
}

func TestSnapshot_RetentionKeepsNewSnapshot(t *testing.T) {
	m, paths := newTestManager(t, 1)
	writeLive(t, paths.Resolve(agent.Amp), "x")

	// A snapshot named in the future sorts ahead of anything the clock
	// produces.
	dir := m.kindDir(agent.Amp)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	future := m.storagePath(agent.Amp, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err := os.WriteFile(future, []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}
	m.last = make(map[agent.Kind]time.Time)

	snap, err := m.Snapshot(agent.Amp)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(snap.StoragePath); err != nil {
		t.Errorf("snapshot just taken should never be pruned: %v", err)
	}
}

func TestSelect_Glob(t *testing.T) {
	m, paths := newTestManager(t, 10)
	writeLive(t, paths.Resolve(agent.Codex), "x")
	for i := 0; i < 3; i++ {
		if _, err := m.Snapshot(agent.Codex); err != nil {
			t.Fatal(err)
		}
	}
	snaps, _ := m.List(agent.Codex)

	tests := []struct {
		pattern string
		want    int
	}{
		{"codex.20261018T*", 3},
		{"codex.20261018T203100.00000000[01].bak", 2},
		{"codex.20261019T*", 0},
		{"amp.*", 0},
		{"*.bak", 3},
	}
	for _, tt := range tests {
		got, err := Select(snaps, tt.pattern)
		if err != nil {
			t.Fatalf("%s: %v", tt.pattern, err)
		}
		if len(got) != tt.want {
			t.Errorf("%s: expected %d matches, got %d", tt.pattern, tt.want, len(got))
		}
	}

	if _, err := Select(snaps, "codex.[2026"); err == nil {
		t.Error("expected error for a malformed pattern")
	}

	newest, err := m.Find(agent.Codex, "codex.20261018T*")
	if err != nil {
		t.Fatal(err)
	}
	if newest.Name() != snaps[0].Name() {
		t.Errorf("pattern should select the newest match: expected %s, got %s", snaps[0].Name(), newest.Name())
	}
	if _, err := m.Find(agent.Codex, "codex.2027*"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound for unmatched pattern, got %v", err)
	}
}

func TestPrune_NeverBelowKeep(t *testing.T) {
	m, paths := newTestManager(t, 10)
	writeLive(t, paths.Resolve(agent.Amp), "x")
	for i := 0; i < 4; i++ {
		if _, err := m.Snapshot(agent.Amp); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := m.Prune(agent.Amp, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 3 {
		t.Errorf("expected 3 removed, got %d", len(removed))
	}
	removed, _ = m.Prune(agent.Amp, 1)
	if len(removed) != 0 {
		t.Errorf("second prune should remove nothing, got %d", len(removed))
	}
}

func TestWriteFileAtomic_KeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.json")

	if err := WriteFileAtomic(path, []byte("one"), 0o640); err != nil {
		t.Fatal(err)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o640 {
		t.Errorf("new file mode: expected 0640, got %o", info.Mode().Perm())
	}

	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	info, _ = os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Errorf("existing mode should be kept: got %o", info.Mode().Perm())
	}
	data, _ := os.ReadFile(path)
	if string(data) != "two" {
		t.Errorf("content: got %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
