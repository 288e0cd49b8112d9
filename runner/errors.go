package runner

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrChannelBusy is returned when a reservation already holds the channel.
	ErrChannelBusy = errors.New("channel already has a reserved run")
	// ErrNotRunning is returned by Kill when no process is active.
	ErrNotRunning = errors.New("no active run for channel")
)

// DirectoryNotFoundError indicates the channel's working directory is absent.
// Fatal to the run, surfaced to the user, never retried.
type DirectoryNotFoundError struct {
	Path string
}

func (e *DirectoryNotFoundError) Error() string {
	return fmt.Sprintf("working directory not found: %s", e.Path)
}

// CLINotFoundError indicates the provider binary was not found.
type CLINotFoundError struct {
	Cause error
	Path  string
}

func (e *CLINotFoundError) Error() string {
	return fmt.Sprintf("provider CLI not found at %q: %v", e.Path, e.Cause)
}

func (e *CLINotFoundError) Unwrap() error { return e.Cause }

// ProcessError represents a spawn or exit failure.
type ProcessError struct {
	Cause    error
	Message  string
	Stderr   string
	ExitCode int
}

func (e *ProcessError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("process error: %s (exit code %d)", e.Message, e.ExitCode)
	}
	return fmt.Sprintf("process error: %s", e.Message)
}

func (e *ProcessError) Unwrap() error { return e.Cause }
