package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/ctrlai/agentsync/internal/agent"
)

// defaultQueueSize is how many jobs may wait on one kind before submitters
// block.
const defaultQueueSize = 64

// job is one unit of work on a lane.
type job struct {
	ctx  context.Context
	op   Op
	run  func(ctx context.Context) error
	done chan error
}

// lane runs the jobs of one agent kind one at a time, in arrival order.
type lane struct {
	kind agent.Kind
	jobs chan *job

	mu    sync.Mutex
	state State
}

func newLane(k agent.Kind, queueSize int) *lane {
	return &lane{
		kind:  k,
		jobs:  make(chan *job, queueSize),
		state: StateIdle,
	}
}

func (l *lane) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *lane) currentState() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// loop drains the job channel until it is closed.
func (l *lane) loop(wg *sync.WaitGroup) {
	defer wg.Done()
	for j := range l.jobs {
		if err := j.ctx.Err(); err != nil {
			// Cancelled while queued: never started, so nothing to undo.
			slog.Debug("skipping cancelled job", "agent", l.kind, "op", j.op)
			j.done <- err
			continue
		}
		j.done <- l.runJob(j)
	}
}

// runJob executes one job. A started job runs to completion even if its
// context is cancelled midway; the lane always returns to Idle.
func (l *lane) runJob(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("lifecycle job panicked",
				"agent", l.kind,
				"op", j.op,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%s %s: internal error: %v", j.op, l.kind, r)
		}
		l.setState(StateIdle)
	}()
	return j.run(context.WithoutCancel(j.ctx))
}
