package lifecycle

import (
	"context"
	"fmt"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/backup"
)

// RestoreResult describes a finished restore.
type RestoreResult struct {
	Kind     agent.Kind      `json:"kind"`
	Restored backup.Snapshot `json:"restored"`
	// Safety is the snapshot of the file as it was just before the restore.
	// Nil when there was no live file.
	Safety *backup.Snapshot `json:"safety,omitempty"`
}

// Backups lists k's snapshots, newest first.
func (c *Coordinator) Backups(k agent.Kind) ([]backup.Snapshot, error) {
	if !k.Valid() {
		return nil, errUnknownKind(k)
	}
	return c.backups.List(k)
}

// Restore writes the named snapshot (or "latest") back over k's config
// file. The snapshot's bytes are loaded before anything else happens, so a
// missing snapshot fails with ErrRestoreFailed and leaves the live file
// untouched. The current file is snapshotted first, which makes a restore
// itself undoable.
func (c *Coordinator) Restore(ctx context.Context, k agent.Kind, name string) (RestoreResult, error) {
	res := RestoreResult{Kind: k}
	err := c.submit(ctx, k, OpRestore, func(ctx context.Context, l *lane) error {
		err := c.restoreLocked(l, name, &res)

		e := newEvent(k, OpRestore)
		e.Path = c.resolve(k)
		e.Snapshot = name
		if res.Restored.StoragePath != "" {
			e.Snapshot = res.Restored.Name()
		}
		if err != nil {
			e.Outcome = OutcomeFailure
			e.Category = CategoryName(err)
			e.Message = err.Error()
		} else {
			e.Outcome = OutcomeSuccess
		}
		c.emit(e)
		return err
	})
	return res, err
}

func (c *Coordinator) restoreLocked(l *lane, name string, res *RestoreResult) error {
	k := l.kind
	path := c.resolve(k)
	l.setState(StateRestoring)

	if name == "" {
		name = "latest"
	}
	snap, err := c.backups.Find(k, name)
	if err != nil {
		return opErr(OpRestore, k, path, ErrRestoreFailed, err)
	}
	res.Restored = snap

	data, err := c.backups.Load(snap)
	if err != nil {
		return opErr(OpRestore, k, path, ErrRestoreFailed, err)
	}

	l.setState(StateSnapshotting)
	safety, err := c.backups.Snapshot(k)
	if err != nil {
		return opErr(OpRestore, k, path, ErrRestoreFailed, fmt.Errorf("snapshotting current file: %w", err))
	}
	res.Safety = safety

	l.setState(StateRestoring)
	if err := c.backups.WriteBack(snap, data); err != nil {
		return opErr(OpRestore, k, path, ErrRestoreFailed, err)
	}
	return nil
}

// Prune deletes k's oldest snapshots so that at most keep remain.
func (c *Coordinator) Prune(ctx context.Context, k agent.Kind, keep int) ([]backup.Snapshot, error) {
	var removed []backup.Snapshot
	err := c.submit(ctx, k, OpPrune, func(ctx context.Context, l *lane) error {
		var err error
		removed, err = c.backups.Prune(k, keep)

		e := newEvent(k, OpPrune)
		if err != nil {
			e.Outcome = OutcomeFailure
			e.Category = "error"
			e.Message = err.Error()
		} else {
			e.Outcome = OutcomeSuccess
			e.Message = fmt.Sprintf("removed %d snapshot(s), kept at most %d", len(removed), keep)
		}
		c.emit(e)
		return err
	})
	return removed, err
}
