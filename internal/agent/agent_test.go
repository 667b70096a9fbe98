package agent

import (
	"os"
	"path/filepath"
	"testing"
)

// === ManagedSet Tests ===

func TestNewManagedSet_NonexistentFile(t *testing.T) {
	ms, err := NewManagedSet(filepath.Join(t.TempDir(), "managed.yaml"))
	if err != nil {
		t.Fatalf("NewManagedSet with nonexistent file should not error: %v", err)
	}
	if ms.IsManaged(ClaudeCode) {
		t.Error("no agents should be managed initially")
	}
	if len(ms.List()) != 0 {
		t.Errorf("expected empty list, got %v", ms.List())
	}
}

func TestNewManagedSet_LoadExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "managed.yaml")
	data := []byte("- kind: codex\n  managed_at: \"2026-01-01T00:00:00Z\"\n- kind: not-an-agent\n  managed_at: \"2026-01-01T00:00:00Z\"\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	ms, err := NewManagedSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ms.IsManaged(Codex) {
		t.Error("codex should be managed after loading")
	}
	if ms.IsManaged(Amp) {
		t.Error("amp should not be managed")
	}
	if len(ms.List()) != 1 {
		t.Errorf("unknown kinds should be skipped, got %v", ms.List())
	}
}

func TestManagedSet_ManageRejectsUnknown(t *testing.T) {
	ms, _ := NewManagedSet(filepath.Join(t.TempDir(), "managed.yaml"))
	if err := ms.Manage(Kind("vim"), ""); err == nil {
		t.Error("expected error managing unknown kind")
	}
}

func TestManagedSet_ManageIdempotent(t *testing.T) {
	ms, _ := NewManagedSet(filepath.Join(t.TempDir(), "managed.yaml"))

	if err := ms.Manage(OpenCode, "first"); err != nil {
		t.Fatal(err)
	}
	if err := ms.Manage(OpenCode, "second"); err != nil {
		t.Errorf("managing twice should not error: %v", err)
	}
	if len(ms.List()) != 1 {
		t.Errorf("expected 1 managed agent, got %d", len(ms.List()))
	}
}

func TestManagedSet_ListInCatalogOrder(t *testing.T) {
	ms, _ := NewManagedSet(filepath.Join(t.TempDir(), "managed.yaml"))
	_ = ms.Manage(FactoryDroid, "")
	_ = ms.Manage(ClaudeCode, "")
	_ = ms.Manage(GeminiCLI, "")

	got := ms.List()
	want := []Kind{ClaudeCode, GeminiCLI, FactoryDroid}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestManagedSet_PersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "managed.yaml")

	ms, _ := NewManagedSet(path)
	_ = ms.Manage(Amp, "menu bar")

	ms2, err := NewManagedSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if !ms2.IsManaged(Amp) {
		t.Error("persisted entry should be loaded by new ManagedSet")
	}
}

func TestManagedSet_UnmanagePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "managed.yaml")

	ms, _ := NewManagedSet(path)
	_ = ms.Manage(Amp, "")
	if err := ms.Unmanage(Amp); err != nil {
		t.Fatal(err)
	}
	if err := ms.Unmanage(Codex); err != nil {
		t.Errorf("unmanaging a non-managed kind should not error: %v", err)
	}

	ms2, _ := NewManagedSet(path)
	if ms2.IsManaged(Amp) {
		t.Error("unmanaged agent should stay unmanaged after reload")
	}
}

func TestManagedSet_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "managed.yaml")
	ms, _ := NewManagedSet(path)

	data := []byte("- kind: gemini-cli\n  managed_at: \"2026-01-01T00:00:00Z\"\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ms.Reload(); err != nil {
		t.Fatal(err)
	}
	if !ms.IsManaged(GeminiCLI) {
		t.Error("gemini-cli should be managed after Reload()")
	}
}

// === Kind catalog Tests ===

func TestAll_SixKinds(t *testing.T) {
	kinds := All()
	if len(kinds) != 6 {
		t.Fatalf("expected 6 kinds, got %d", len(kinds))
	}
	seen := map[Kind]bool{}
	for _, k := range kinds {
		if seen[k] {
			t.Errorf("duplicate kind %s", k)
		}
		seen[k] = true
		if _, ok := Lookup(k); !ok {
			t.Errorf("kind %s missing from catalog", k)
		}
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want Kind
	}{
		{"claude-code", ClaudeCode},
		{"Claude_Code", ClaudeCode},
		{" codex ", Codex},
		{"FACTORY-DROID", FactoryDroid},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if err != nil {
			t.Errorf("Parse(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q): expected %s, got %s", tt.in, tt.want, got)
		}
	}

	if _, err := Parse("cursor"); err == nil {
		t.Error("expected error for unknown agent")
	}
}

func TestPaths_Resolve(t *testing.T) {
	p := Paths{
		Home: "/home/u",
		Overrides: map[Kind]string{
			Codex: "~/work/codex.toml",
			Amp:   "/etc/amp.json",
		},
	}

	if got := p.Resolve(ClaudeCode); got != filepath.Join("/home/u", ".claude", "settings.json") {
		t.Errorf("claude-code default path: got %q", got)
	}
	if got := p.Resolve(Codex); got != filepath.Join("/home/u", "work", "codex.toml") {
		t.Errorf("codex override with ~: got %q", got)
	}
	if got := p.Resolve(Amp); got != "/etc/amp.json" {
		t.Errorf("amp absolute override: got %q", got)
	}
	if got := p.Resolve(Kind("unknown")); got != "" {
		t.Errorf("unknown kind should resolve to empty path, got %q", got)
	}
}
