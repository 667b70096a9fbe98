package history

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/lifecycle"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s, path
}

func event(k agent.Kind, op lifecycle.Op, outcome lifecycle.Outcome) lifecycle.Event {
	return lifecycle.Event{
		ID:      "ev-" + string(k) + "-" + string(op),
		Time:    time.Now().UTC(),
		Kind:    k,
		Op:      op,
		Outcome: outcome,
	}
}

// --- Hash chain ---

func TestComputeHash_Deterministic(t *testing.T) {
	e := &Entry{Seq: 1, Timestamp: "2026-10-18T10:00:00Z", Agent: "codex", Op: "generate", Outcome: "success", PrevHash: genesisHash}
	if computeHash(e) != computeHash(e) {
		t.Error("same input should produce the same hash")
	}
	if !strings.HasPrefix(computeHash(e), "sha256:") {
		t.Errorf("hash should start with 'sha256:', got %q", computeHash(e))
	}
}

func TestComputeHash_SensitiveToAllFields(t *testing.T) {
	base := Entry{
		Seq:       1,
		Timestamp: "2026-10-18T10:00:00Z",
		Agent:     "codex",
		Op:        "generate",
		Outcome:   "success",
		Snapshot:  "codex.20261018T100000.000000000.bak",
		PrevHash:  "sha256:abc",
	}
	baseHash := computeHash(&base)

	tests := []struct {
		name   string
		modify func(e *Entry)
	}{
		{"seq", func(e *Entry) { e.Seq = 99 }},
		{"timestamp", func(e *Entry) { e.Timestamp = "2026-12-31T00:00:00Z" }},
		{"agent", func(e *Entry) { e.Agent = "amp" }},
		{"op", func(e *Entry) { e.Op = "restore" }},
		{"outcome", func(e *Entry) { e.Outcome = "failure" }},
		{"snapshot", func(e *Entry) { e.Snapshot = "" }},
		{"prev_hash", func(e *Entry) { e.PrevHash = "sha256:xyz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modified := base
			tt.modify(&modified)
			if computeHash(&modified) == baseHash {
				t.Errorf("changing %s should produce a different hash", tt.name)
			}
		})
	}
}

// --- Store ---

func TestAppend_ChainsEntries(t *testing.T) {
	s, _ := openTestStore(t)

	e1, err := s.Append(event(agent.Codex, lifecycle.OpGenerate, lifecycle.OutcomeSuccess))
	if err != nil {
		t.Fatal(err)
	}
	e2, err := s.Append(event(agent.Codex, lifecycle.OpRestore, lifecycle.OutcomeSuccess))
	if err != nil {
		t.Fatal(err)
	}

	if e1.Seq != 1 || e2.Seq != 2 {
		t.Errorf("seq: expected 1 and 2, got %d and %d", e1.Seq, e2.Seq)
	}
	if e1.PrevHash != genesisHash {
		t.Errorf("first entry should link to genesis, got %q", e1.PrevHash)
	}
	if e2.PrevHash != e1.Hash {
		t.Error("second entry should link to the first")
	}

	res, err := s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.EntriesChecked != 2 {
		t.Errorf("expected valid chain of 2, got %+v", res)
	}
}

func TestAppend_ContinuesAfterReopen(t *testing.T) {
	s, path := openTestStore(t)
	first, err := s.Append(event(agent.Amp, lifecycle.OpGenerate, lifecycle.OutcomeSuccess))
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	second, err := s2.Append(event(agent.Amp, lifecycle.OpProbe, lifecycle.OutcomeFailure))
	if err != nil {
		t.Fatal(err)
	}
	if second.Seq != 2 || second.PrevHash != first.Hash {
		t.Errorf("chain should continue across reopen: %+v", second)
	}
}

func TestVerify_DetectsTampering(t *testing.T) {
	s, _ := openTestStore(t)
	for _, op := range []lifecycle.Op{lifecycle.OpGenerate, lifecycle.OpGenerate, lifecycle.OpRestore} {
		if _, err := s.Append(event(agent.ClaudeCode, op, lifecycle.OutcomeSuccess)); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.db.Exec("UPDATE entries SET outcome = 'failure' WHERE seq = 2"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered chain should not verify")
	}
	if res.BrokenAtSeq != 2 {
		t.Errorf("expected break at seq 2, got %d", res.BrokenAtSeq)
	}
}

func TestVerify_DetectsRemovedEntry(t *testing.T) {
	s, _ := openTestStore(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Append(event(agent.Codex, lifecycle.OpGenerate, lifecycle.OutcomeSuccess)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.db.Exec("DELETE FROM entries WHERE seq = 2"); err != nil {
		t.Fatal(err)
	}

	res, _ := s.Verify()
	if res.Valid || res.BrokenAtSeq != 3 {
		t.Errorf("expected break at seq 3, got %+v", res)
	}
}

func TestQuery_Filters(t *testing.T) {
	s, _ := openTestStore(t)
	s.Record(event(agent.Codex, lifecycle.OpGenerate, lifecycle.OutcomeSuccess))
	s.Record(event(agent.Codex, lifecycle.OpProbe, lifecycle.OutcomeFailure))
	s.Record(event(agent.Amp, lifecycle.OpGenerate, lifecycle.OutcomeUnchanged))

	tests := []struct {
		name   string
		params QueryParams
		want   int
	}{
		{"all", QueryParams{}, 3},
		{"agent", QueryParams{Agent: "codex"}, 2},
		{"op", QueryParams{Op: "generate"}, 2},
		{"outcome", QueryParams{Outcome: "failure"}, 1},
		{"limit", QueryParams{Limit: 1}, 1},
		{"since duration", QueryParams{Since: "1h"}, 3},
		{"since future", QueryParams{Since: time.Now().Add(time.Hour).UTC().Format(time.RFC3339Nano)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d entries, got %d", tt.want, len(got))
			}
		})
	}

	tail, _ := s.Tail(1)
	if len(tail) != 1 || tail[0].Agent != "amp" {
		t.Errorf("tail should return the newest entry, got %+v", tail)
	}

	if _, err := s.Query(QueryParams{Since: "yesterday"}); err == nil {
		t.Error("expected error for an unparseable since")
	}
}

func TestExport_Formats(t *testing.T) {
	s, _ := openTestStore(t)
	ev := event(agent.GeminiCLI, lifecycle.OpGenerate, lifecycle.OutcomeSuccess)
	ev.Message = "wrote, with a comma"
	s.Record(ev)
	s.Record(event(agent.GeminiCLI, lifecycle.OpRestore, lifecycle.OutcomeSuccess))

	var jsonl bytes.Buffer
	if err := s.Export(&jsonl, "jsonl"); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(jsonl.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("jsonl: expected 2 lines, got %d", len(lines))
	}
	var first Entry
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatal(err)
	}
	if first.Op != "generate" {
		t.Errorf("export should be oldest first, got %q", first.Op)
	}

	var csvOut bytes.Buffer
	if err := s.Export(&csvOut, "csv"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(csvOut.String(), `"wrote, with a comma"`) {
		t.Errorf("csv should quote fields with commas:\n%s", csvOut.String())
	}

	var js bytes.Buffer
	if err := s.Export(&js, "json"); err != nil {
		t.Fatal(err)
	}
	var arr []Entry
	if err := json.Unmarshal(js.Bytes(), &arr); err != nil || len(arr) != 2 {
		t.Errorf("json export: %v, %d entries", err, len(arr))
	}

	if err := s.Export(&js, "xml"); err == nil {
		t.Error("expected error for unsupported format")
	}
}
