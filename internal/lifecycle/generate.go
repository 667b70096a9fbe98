package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/backup"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/probe"
	"github.com/ctrlai/agentsync/internal/validate"
)

// GenerateOptions adjusts a generate.
type GenerateOptions struct {
	// SkipProbe writes without testing the endpoint afterwards.
	SkipProbe bool
	// Replace writes a fresh skeleton when the existing file cannot be
	// merged, instead of failing. The pre-write snapshot keeps the old
	// content recoverable.
	Replace bool
}

// WriteResult describes a finished generate.
type WriteResult struct {
	Kind agent.Kind `json:"kind"`
	Path string     `json:"path"`
	// Changed is false when the rendered output equals the file on disk;
	// nothing was snapshotted or written.
	Changed bool `json:"changed"`
	// Created is true when the file did not exist before.
	Created  bool             `json:"created"`
	Snapshot *backup.Snapshot `json:"snapshot,omitempty"`
	Bytes    int              `json:"bytes"`
	// Probe is nil when the probe was skipped.
	Probe *probe.Result `json:"probe,omitempty"`
}

// Generate renders settings into k's config file, merging with whatever
// the file already holds, and then probes the endpoint.
//
// The sequence on k's lane is: read the current file, render, validate the
// rendered bytes, snapshot the current file, write atomically, probe. A
// failure before the write leaves the live file untouched. A failed probe
// does not fail the generate; it is reported in WriteResult.Probe.
//
// An empty APIKey keeps the key already in the file.
func (c *Coordinator) Generate(ctx context.Context, k agent.Kind, s codec.Settings, opts GenerateOptions) (WriteResult, error) {
	cd, err := codec.For(k)
	if err != nil {
		return WriteResult{}, opErr(OpGenerate, k, "", ErrInvalidSettings, err)
	}
	if err := codec.CheckSettings(cd, s); err != nil {
		return WriteResult{}, opErr(OpGenerate, k, c.resolve(k), ErrInvalidSettings, err)
	}

	var res WriteResult
	err = c.submit(ctx, k, OpGenerate, func(ctx context.Context, l *lane) error {
		var err error
		res, err = c.generateLocked(ctx, l, cd, s, opts)

		e := newEvent(k, OpGenerate)
		e.Path = res.Path
		switch {
		case err != nil:
			e.Outcome = OutcomeFailure
			e.Category = CategoryName(err)
			e.Message = err.Error()
		case !res.Changed:
			e.Outcome = OutcomeUnchanged
		default:
			e.Outcome = OutcomeSuccess
		}
		if res.Snapshot != nil {
			e.Snapshot = res.Snapshot.Name()
		}
		if res.Probe != nil && !res.Probe.Success {
			e.Category = string(res.Probe.Category)
			e.Message = res.Probe.Message
		}
		c.emit(e)
		return err
	})
	return res, err
}

func (c *Coordinator) generateLocked(ctx context.Context, l *lane, cd codec.Codec, s codec.Settings, opts GenerateOptions) (WriteResult, error) {
	k := l.kind
	path := c.resolve(k)
	res := WriteResult{Kind: k, Path: path}

	l.setState(StateReading)
	existing, exists, err := c.readExisting(k, path)
	if err != nil {
		return res, err
	}
	res.Created = !exists
	s = keepStoredKey(cd, s, existing)

	l.setState(StateGenerating)
	out, err := render(cd, s, existing, opts.Replace)
	if err != nil {
		category := ErrWriteFailed
		if errors.Is(err, codec.ErrInvalidSettings) {
			category = ErrInvalidSettings
		}
		return res, opErr(OpGenerate, k, path, category, err)
	}
	if err := validate.Check(k, out); err != nil {
		return res, opErr(OpGenerate, k, path, ErrWriteFailed, fmt.Errorf("rendered output rejected: %w", err))
	}
	res.Bytes = len(out)

	if exists && bytes.Equal(out, existing) {
		res.Changed = false
	} else {
		l.setState(StateSnapshotting)
		snap, err := c.backups.Snapshot(k)
		if err != nil {
			return res, opErr(OpGenerate, k, path, ErrWriteFailed, err)
		}
		res.Snapshot = snap

		l.setState(StateWriting)
		if err := backup.WriteFileAtomic(path, out, c.filePerm); err != nil {
			return res, opErr(OpGenerate, k, path, ErrWriteFailed, err)
		}
		res.Changed = true
	}

	if !opts.SkipProbe && c.prober != nil {
		l.setState(StateTesting)
		r := c.prober.Probe(ctx, k, s)
		res.Probe = &r
	}
	return res, nil
}

// keepStoredKey fills an empty s.APIKey from the existing file, so a write
// that does not name a key does not erase the one already configured.
func keepStoredKey(cd codec.Codec, s codec.Settings, existing []byte) codec.Settings {
	if s.APIKey == "" && len(existing) > 0 {
		s.APIKey = cd.Decode(existing).APIKey
	}
	return s
}

// render encodes s over existing. With replace, an existing file that
// cannot be merged is discarded in favour of a fresh skeleton.
func render(cd codec.Codec, s codec.Settings, existing []byte, replace bool) ([]byte, error) {
	out, err := cd.Encode(s, existing)
	if err != nil && replace && errors.Is(err, codec.ErrUnmergeable) {
		return cd.Encode(s, nil)
	}
	return out, err
}

// Preview renders what Generate would write, without snapshotting,
// writing, or probing.
func (c *Coordinator) Preview(ctx context.Context, k agent.Kind, s codec.Settings, opts GenerateOptions) ([]byte, error) {
	cd, err := codec.For(k)
	if err != nil {
		return nil, opErr(OpGenerate, k, "", ErrInvalidSettings, err)
	}
	if err := codec.CheckSettings(cd, s); err != nil {
		return nil, opErr(OpGenerate, k, c.resolve(k), ErrInvalidSettings, err)
	}

	var out []byte
	err = c.submit(ctx, k, OpRead, func(ctx context.Context, l *lane) error {
		path := c.resolve(k)
		l.setState(StateReading)
		existing, _, err := c.readExisting(k, path)
		if err != nil {
			return err
		}
		s := keepStoredKey(cd, s, existing)
		l.setState(StateGenerating)
		out, err = render(cd, s, existing, opts.Replace)
		if err != nil {
			category := ErrWriteFailed
			if errors.Is(err, codec.ErrInvalidSettings) {
				category = ErrInvalidSettings
			}
			return opErr(OpGenerate, k, path, category, err)
		}
		return nil
	})
	return out, err
}

// GenerateDefault writes the baseline configuration for mode: endpoint,
// key, and model come from the Defaults function. A model or key already in
// the file is kept when the defaults leave it empty.
func (c *Coordinator) GenerateDefault(ctx context.Context, k agent.Kind, mode codec.Mode, opts GenerateOptions) (WriteResult, error) {
	s, err := c.defaultSettings(ctx, k, mode)
	if err != nil {
		return WriteResult{}, err
	}
	return c.Generate(ctx, k, s, opts)
}

func (c *Coordinator) defaultSettings(ctx context.Context, k agent.Kind, mode codec.Mode) (codec.Settings, error) {
	if c.defaults == nil {
		return codec.Settings{}, opErr(OpGenerate, k, "", ErrInvalidSettings, errors.New("no defaults configured"))
	}
	s, err := c.defaults(k, mode)
	if err != nil {
		return codec.Settings{}, opErr(OpGenerate, k, "", ErrInvalidSettings, err)
	}
	s.Mode = mode

	if s.Model == "" || s.APIKey == "" {
		cur, err := c.Read(ctx, k)
		if err != nil {
			return codec.Settings{}, err
		}
		if s.Model == "" {
			s.Model = cur.Parsed.Model
		}
		if s.APIKey == "" {
			s.APIKey = cur.Parsed.APIKey
		}
	}
	return s, nil
}
