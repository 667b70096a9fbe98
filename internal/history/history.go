// Package history records every finished lifecycle operation in a SQLite
// database so users can see what agentsync changed, when, and whether the
// endpoint answered.
//
// Entries are hash-chained: each entry's hash covers the previous entry's
// hash, so Verify detects an edited row or one removed from the middle.
//
// The database lives at ~/.agentsync/history.db.
package history

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/ctrlai/agentsync/internal/lifecycle"
)

// Entry is one recorded operation.
type Entry struct {
	Seq       int64  `json:"seq"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"ts"`
	Agent     string `json:"agent"`
	Op        string `json:"op"`
	Outcome   string `json:"outcome"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message,omitempty"`
	Snapshot  string `json:"snapshot,omitempty"`
	Path      string `json:"path,omitempty"`
	PrevHash  string `json:"prev_hash"`
	Hash      string `json:"hash"`
}

// QueryParams filters Query. Zero values mean "no filter".
type QueryParams struct {
	Agent   string // Exact agent kind.
	Op      string // Exact operation name.
	Outcome string // success, failure, or unchanged.
	Since   string // RFC 3339 timestamp or a duration such as "24h".
	Limit   int
}

// VerifyResult is the outcome of a chain verification.
type VerifyResult struct {
	Valid          bool   `json:"valid"`
	EntriesChecked int    `json:"entries_checked"`
	BrokenAtSeq    int64  `json:"broken_at_seq,omitempty"`
	ExpectedHash   string `json:"expected_hash,omitempty"`
	ActualHash     string `json:"actual_hash,omitempty"`
}

// Store is the history database. Safe for concurrent use; WAL mode lets
// the CLI read while `agentsync serve` writes.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

const columns = "seq, event_id, ts, agent, op, outcome, category, message, snapshot, path, prev_hash, hash"

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history database %s: %w", path, err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS entries (
			seq       INTEGER PRIMARY KEY,
			event_id  TEXT NOT NULL DEFAULT '',
			ts        TEXT NOT NULL,
			agent     TEXT NOT NULL DEFAULT '',
			op        TEXT NOT NULL DEFAULT '',
			outcome   TEXT NOT NULL DEFAULT '',
			category  TEXT NOT NULL DEFAULT '',
			message   TEXT NOT NULL DEFAULT '',
			snapshot  TEXT NOT NULL DEFAULT '',
			path      TEXT NOT NULL DEFAULT '',
			prev_hash TEXT NOT NULL DEFAULT '',
			hash      TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_agent ON entries(agent);
		CREATE INDEX IF NOT EXISTS idx_op ON entries(op);
		CREATE INDEX IF NOT EXISTS idx_ts ON entries(ts);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}

	slog.Debug("history opened", "path", path)
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends a lifecycle event. Errors are logged, not returned: a
// failing history database must never fail the operation it describes.
func (s *Store) Record(ev lifecycle.Event) {
	if _, err := s.Append(ev); err != nil {
		slog.Error("history insert failed", "event", ev.ID, "error", err)
	}
}

// Append records a lifecycle event and returns the stored entry. The chain
// head is re-read inside the transaction, so the CLI and a running server
// can both append.
func (s *Store) Append(ev lifecycle.Event) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return Entry{}, fmt.Errorf("starting history transaction: %w", err)
	}
	defer tx.Rollback()

	seq, prev, err := chainHead(tx)
	if err != nil {
		return Entry{}, err
	}

	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	e := Entry{
		Seq:       seq + 1,
		EventID:   ev.ID,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		Agent:     string(ev.Kind),
		Op:        string(ev.Op),
		Outcome:   string(ev.Outcome),
		Category:  ev.Category,
		Message:   ev.Message,
		Snapshot:  ev.Snapshot,
		Path:      ev.Path,
		PrevHash:  prev,
	}
	e.Hash = computeHash(&e)

	_, err = tx.Exec(
		"INSERT INTO entries ("+columns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		e.Seq, e.EventID, e.Timestamp, e.Agent, e.Op, e.Outcome,
		e.Category, e.Message, e.Snapshot, e.Path, e.PrevHash, e.Hash,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("inserting history entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("committing history entry: %w", err)
	}
	return e, nil
}

// chainHead returns the last entry's seq and hash, or 0 and the genesis
// hash for an empty database.
func chainHead(tx *sql.Tx) (int64, string, error) {
	var seq int64
	var hash string
	err := tx.QueryRow("SELECT seq, hash FROM entries ORDER BY seq DESC LIMIT 1").Scan(&seq, &hash)
	if err == sql.ErrNoRows {
		return 0, genesisHash, nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("reading last history entry: %w", err)
	}
	return seq, hash, nil
}

// Tail returns the limit most recent entries, newest first.
func (s *Store) Tail(limit int) ([]Entry, error) {
	return s.Query(QueryParams{Limit: limit})
}

// Query returns entries matching params, newest first.
func (s *Store) Query(params QueryParams) ([]Entry, error) {
	if params.Since != "" && !strings.Contains(params.Since, "T") {
		d, err := time.ParseDuration(params.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since duration %q: %w", params.Since, err)
		}
		params.Since = time.Now().UTC().Add(-d).Format(time.RFC3339Nano)
	}

	query := "SELECT " + columns + " FROM entries WHERE 1=1"
	var args []any
	if params.Agent != "" {
		query += " AND agent = ?"
		args = append(args, params.Agent)
	}
	if params.Op != "" {
		query += " AND op = ?"
		args = append(args, params.Op)
	}
	if params.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, params.Outcome)
	}
	if params.Since != "" {
		query += " AND ts >= ?"
		args = append(args, params.Since)
	}
	query += " ORDER BY seq DESC"
	if params.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, params.Limit)
	}
	return s.scan(query, args...)
}

func (s *Store) scan(query string, args ...any) ([]Entry, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.Seq, &e.EventID, &e.Timestamp, &e.Agent, &e.Op, &e.Outcome,
			&e.Category, &e.Message, &e.Snapshot, &e.Path, &e.PrevHash, &e.Hash,
		); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// all returns every entry, oldest first.
func (s *Store) all() ([]Entry, error) {
	return s.scan("SELECT " + columns + " FROM entries ORDER BY seq ASC")
}

// Verify walks the chain from the first entry and reports the first entry
// whose hash or link does not match.
func (s *Store) Verify() (VerifyResult, error) {
	entries, err := s.all()
	if err != nil {
		return VerifyResult{}, err
	}

	prev := genesisHash
	for i := range entries {
		e := &entries[i]
		if e.PrevHash != prev {
			return VerifyResult{
				EntriesChecked: i + 1,
				BrokenAtSeq:    e.Seq,
				ExpectedHash:   prev,
				ActualHash:     e.PrevHash,
			}, nil
		}
		if !verifyEntry(e) {
			return VerifyResult{
				EntriesChecked: i + 1,
				BrokenAtSeq:    e.Seq,
				ExpectedHash:   computeHash(e),
				ActualHash:     e.Hash,
			}, nil
		}
		prev = e.Hash
	}
	return VerifyResult{Valid: true, EntriesChecked: len(entries)}, nil
}

// Export writes every entry, oldest first, as "jsonl" (default), "json",
// or "csv".
func (s *Store) Export(w io.Writer, format string) error {
	entries, err := s.all()
	if err != nil {
		return fmt.Errorf("reading entries for export: %w", err)
	}

	switch format {
	case "json":
		if entries == nil {
			entries = []Entry{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)

	case "csv":
		cw := csv.NewWriter(w)
		if err := cw.Write([]string{"seq", "ts", "agent", "op", "outcome", "category", "snapshot", "message", "hash"}); err != nil {
			return err
		}
		for _, e := range entries {
			if err := cw.Write([]string{
				strconv.FormatInt(e.Seq, 10),
				e.Timestamp,
				e.Agent,
				e.Op,
				e.Outcome,
				e.Category,
				e.Snapshot,
				e.Message,
				e.Hash,
			}); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()

	case "jsonl", "":
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s (use json, jsonl, or csv)", format)
	}
}
