package lifecycle

import (
	"time"

	"github.com/google/uuid"

	"github.com/ctrlai/agentsync/internal/agent"
)

// Op names a lifecycle operation.
type Op string

const (
	OpRead     Op = "read"
	OpGenerate Op = "generate"
	OpRestore  Op = "restore"
	OpPrune    Op = "prune"
	OpProbe    Op = "probe"
	OpValidate Op = "validate"
)

// State is what a kind's lane is doing right now.
type State string

const (
	StateIdle         State = "idle"
	StateReading      State = "reading"
	StateSnapshotting State = "snapshotting"
	StateGenerating   State = "generating"
	StateWriting      State = "writing"
	StateTesting      State = "testing"
	StateRestoring    State = "restoring"
)

// Outcome of a finished operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	// OutcomeUnchanged: a generate whose output equals the file on disk.
	OutcomeUnchanged Outcome = "unchanged"
)

// Event is emitted when a mutating operation or a probe finishes. It feeds
// the history database and the live event stream.
type Event struct {
	ID       string     `json:"id"`
	Time     time.Time  `json:"time"`
	Kind     agent.Kind `json:"kind"`
	Op       Op         `json:"op"`
	Outcome  Outcome    `json:"outcome"`
	Category string     `json:"category,omitempty"`
	Message  string     `json:"message,omitempty"`
	Snapshot string     `json:"snapshot,omitempty"`
	Path     string     `json:"path,omitempty"`
}

func newEvent(k agent.Kind, op Op) Event {
	return Event{
		ID:   uuid.NewString(),
		Time: time.Now().UTC(),
		Kind: k,
		Op:   op,
	}
}
