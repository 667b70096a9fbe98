package lifecycle

import (
	"errors"
	"fmt"

	"github.com/ctrlai/agentsync/internal/agent"
	"github.com/ctrlai/agentsync/internal/codec"
)

// Failure categories. Every *OpError matches exactly one of them with
// errors.Is, in addition to its underlying cause.
var (
	// ErrReadFailed: the config file exists but could not be read.
	ErrReadFailed = errors.New("read failed")
	// ErrWriteFailed: snapshotting, rendering, validating, or writing the
	// config file failed.
	ErrWriteFailed = errors.New("write failed")
	// ErrRestoreFailed: the snapshot is missing or could not be written back.
	ErrRestoreFailed = errors.New("restore failed")
	// ErrInvalidSettings: the settings cannot be expressed for this agent.
	// No file was touched.
	ErrInvalidSettings = codec.ErrInvalidSettings
)

var (
	// ErrNotConfigured is returned by operations that need an existing
	// config file when there is none. Read reports the same condition as
	// ReadResult.Configured == false instead.
	ErrNotConfigured = errors.New("agent is not configured")
	// ErrClosed is returned for work submitted after Close.
	ErrClosed = errors.New("coordinator is closed")
)

// OpError describes a failed lifecycle operation.
type OpError struct {
	Op       Op
	Kind     agent.Kind
	Path     string
	Category error
	Err      error
}

func (e *OpError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Kind, e.Category, e.Err)
	}
	return fmt.Sprintf("%s %s (%s): %v: %v", e.Op, e.Kind, e.Path, e.Category, e.Err)
}

// Unwrap exposes both the category and the cause, so callers can match
// either (errors.Is(err, ErrWriteFailed), errors.Is(err, fs.ErrPermission)).
func (e *OpError) Unwrap() []error {
	return []error{e.Category, e.Err}
}

func opErr(op Op, k agent.Kind, path string, category, err error) *OpError {
	return &OpError{Op: op, Kind: k, Path: path, Category: category, Err: err}
}

// CategoryName is the short label recorded in events and history, such
// as "write_failed".
func CategoryName(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidSettings):
		return "invalid_settings"
	case errors.Is(err, ErrReadFailed):
		return "read_failed"
	case errors.Is(err, ErrWriteFailed):
		return "write_failed"
	case errors.Is(err, ErrRestoreFailed):
		return "restore_failed"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	default:
		return "error"
	}
}
