// Package lifecycle coordinates everything agentsync does to an agent's
// config file: read, generate, snapshot, write, probe, and restore.
//
// Operations on the same agent kind are serialized through a per-kind lane
// and run in arrival order, so two generates for one kind never interleave
// and the file always ends up as one complete output. Different kinds run
// concurrently.
package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/backup"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/probe"
)

// DefaultFilePerm is the mode given to config files agentsync creates.
// They hold API keys.
const DefaultFilePerm os.FileMode = 0o600

// Prober tests endpoints and lists their models.
type Prober interface {
	Probe(ctx context.Context, kind agent.Kind, s codec.Settings) probe.Result
	FetchModels(ctx context.Context, req probe.Request) probe.Page
	FetchAll(ctx context.Context, req probe.Request, maxPages int) probe.Page
}

// ManagedKinds lists the kinds agentsync currently manages.
type ManagedKinds interface {
	List() []agent.Kind
}

// DefaultsFunc returns the baseline settings for a kind in a mode, such as
// the local or remote proxy URL and the configured model.
type DefaultsFunc func(k agent.Kind, mode codec.Mode) (codec.Settings, error)

// Options configures a Coordinator.
type Options struct {
	// Resolve maps a kind to its live config path.
	Resolve func(agent.Kind) string
	Backups *backup.Manager
	Prober  Prober
	// Managed is consulted by SwitchMode. Optional.
	Managed ManagedKinds
	// Defaults backs GenerateDefault and SwitchMode. Optional.
	Defaults DefaultsFunc
	// FilePerm is the mode for newly created config files. Zero means
	// DefaultFilePerm; existing files keep their mode.
	FilePerm os.FileMode
	// QueueSize bounds the pending jobs per kind. Zero means a default.
	QueueSize int

	// OnEvent is called after each mutating operation or probe finishes,
	// allowing history and the live event feed to record it.
	// Optional; nil means events are only logged.
	OnEvent func(Event)
}

// Coordinator is the entry point for lifecycle operations. Safe for
// concurrent use.
type Coordinator struct {
	resolve   func(agent.Kind) string
	backups   *backup.Manager
	prober    Prober
	managed   ManagedKinds
	defaults  DefaultsFunc
	filePerm  os.FileMode
	queueSize int
	onEvent   func(Event)

	mu    sync.Mutex
	lanes map[agent.Kind]*lane
	wg    sync.WaitGroup

	sendMu sync.RWMutex
	closed bool
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		resolve:   opts.Resolve,
		backups:   opts.Backups,
		prober:    opts.Prober,
		managed:   opts.Managed,
		defaults:  opts.Defaults,
		filePerm:  opts.FilePerm,
		queueSize: opts.QueueSize,
		onEvent:   opts.OnEvent,
		lanes:     make(map[agent.Kind]*lane),
	}
	if c.filePerm == 0 {
		c.filePerm = DefaultFilePerm
	}
	if c.queueSize <= 0 {
		c.queueSize = defaultQueueSize
	}
	if c.resolve == nil {
		c.resolve = agent.Paths{}.Resolve
	}
	return c
}

// Path returns the live config path for k.
func (c *Coordinator) Path(k agent.Kind) string {
	return c.resolve(k)
}

// State returns what k's lane is doing. Kinds that never ran a job are Idle.
func (c *Coordinator) State(k agent.Kind) State {
	c.mu.Lock()
	l, ok := c.lanes[k]
	c.mu.Unlock()
	if !ok {
		return StateIdle
	}
	return l.currentState()
}

// lane returns k's lane, starting its worker on first use.
func (c *Coordinator) lane(k agent.Kind) *lane {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lanes[k]
	if !ok {
		l = newLane(k, c.queueSize)
		c.lanes[k] = l
		c.wg.Add(1)
		go l.loop(&c.wg)
	}
	return l
}

// submit queues fn on k's lane and waits for it. If ctx is cancelled while
// the job is still queued, the job is skipped and ctx.Err() returned; once
// started, the job runs to completion even if the caller stops waiting.
func (c *Coordinator) submit(ctx context.Context, k agent.Kind, op Op, fn func(ctx context.Context, l *lane) error) error {
	if !k.Valid() {
		return opErr(op, k, "", ErrInvalidSettings, errUnknownKind(k))
	}

	// The read lock is held across the send so Close cannot close the
	// channel underneath a blocked sender.
	c.sendMu.RLock()
	if c.closed {
		c.sendMu.RUnlock()
		return ErrClosed
	}
	l := c.lane(k)
	j := &job{ctx: ctx, op: op, done: make(chan error, 1)}
	j.run = func(ctx context.Context) error { return fn(ctx, l) }
	select {
	case l.jobs <- j:
		c.sendMu.RUnlock()
	case <-ctx.Done():
		c.sendMu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, lets queued jobs finish, and waits for all
// lanes to drain.
func (c *Coordinator) Close() {
	c.sendMu.Lock()
	if c.closed {
		c.sendMu.Unlock()
		return
	}
	c.closed = true
	c.mu.Lock()
	for _, l := range c.lanes {
		close(l.jobs)
	}
	c.mu.Unlock()
	c.sendMu.Unlock()

	c.wg.Wait()
}

// emit delivers a finished operation's event.
func (c *Coordinator) emit(e Event) {
	attrs := []any{
		"agent", e.Kind,
		"op", e.Op,
		"outcome", e.Outcome,
	}
	if e.Category != "" {
		attrs = append(attrs, "category", e.Category)
	}
	if e.Snapshot != "" {
		attrs = append(attrs, "snapshot", e.Snapshot)
	}
	if e.Outcome == OutcomeFailure {
		slog.Warn("lifecycle operation failed", append(attrs, "message", e.Message)...)
	} else {
		slog.Info("lifecycle operation finished", attrs...)
	}
	if c.onEvent != nil {
		c.onEvent(e)
	}
}
