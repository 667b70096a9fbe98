package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
	"github.com/ctrlai/agentsync/internal/validate"
)

// ReadResult is what Read found for one kind.
type ReadResult struct {
	Kind agent.Kind `json:"kind"`
	Path string     `json:"path"`
	// Configured is false when the config file does not exist.
	Configured bool         `json:"configured"`
	Parsed     codec.Parsed `json:"parsed"`
}

func errUnknownKind(k agent.Kind) error {
	return fmt.Errorf("unknown agent kind %q", k)
}

// readFile returns the file's bytes, or nil with no error when it does
// not exist.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Read decodes k's live config file. A missing file is not an error; it
// yields Configured == false. Any other I/O failure is ErrReadFailed.
func (c *Coordinator) Read(ctx context.Context, k agent.Kind) (ReadResult, error) {
	var res ReadResult
	err := c.submit(ctx, k, OpRead, func(ctx context.Context, l *lane) error {
		var err error
		res, err = c.readLocked(l)
		return err
	})
	return res, err
}

// readLocked runs on k's lane.
func (c *Coordinator) readLocked(l *lane) (ReadResult, error) {
	l.setState(StateReading)
	k := l.kind
	path := c.resolve(k)
	res := ReadResult{Kind: k, Path: path}

	data, exists, err := c.readExisting(k, path)
	if err != nil {
		return res, err
	}
	if !exists {
		return res, nil
	}
	cd, err := codec.For(k)
	if err != nil {
		return res, opErr(OpRead, k, path, ErrReadFailed, err)
	}
	res.Configured = true
	res.Parsed = cd.Decode(data)
	return res, nil
}

// readExisting distinguishes "no file" from "file could not be read".
func (c *Coordinator) readExisting(k agent.Kind, path string) (data []byte, exists bool, err error) {
	data, err = readFile(path)
	if err != nil {
		return nil, false, opErr(OpRead, k, path, ErrReadFailed, err)
	}
	if data == nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, false, nil
		}
		// Exists but empty.
		return []byte{}, true, nil
	}
	return data, true, nil
}

// Validate checks k's live config file. It returns nil when the file is
// well formed, ErrNotConfigured when there is no file, and an error
// matching validate.ErrInvalid describing the problems otherwise.
func (c *Coordinator) Validate(ctx context.Context, k agent.Kind) error {
	return c.submit(ctx, k, OpValidate, func(ctx context.Context, l *lane) error {
		l.setState(StateReading)
		path := c.resolve(k)
		data, exists, err := c.readExisting(k, path)
		if err != nil {
			return err
		}
		if !exists {
			return opErr(OpValidate, k, path, ErrNotConfigured, fmt.Errorf("%s does not exist", path))
		}
		if err := validate.Check(k, data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	})
}
