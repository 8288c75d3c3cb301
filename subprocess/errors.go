package subprocess

import (
	"errors"
	"fmt"
	"strings"
)

// Slot identifies one of the standard streams of a process.
type Slot int

const (
	Stdin Slot = iota
	Stdout
	Stderr
)

func (s Slot) String() string {
	switch s {
	case Stdin:
		return "stdin"
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return fmt.Sprintf("slot(%d)", int(s))
	}
}

// ErrConfiguration is wrapped by every error Start returns for an invalid Args.
var ErrConfiguration = errors.New("invalid subprocess configuration")

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// SpawnError is returned from Wait when the process could not be created.
type SpawnError struct {
	Command []string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %q: %s", strings.Join(e.Command, " "), e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// PipeError is a failure of the native pipe connecting a slot to the process.
type PipeError struct {
	Slot Slot
	Op   string
	Err  error
}

func (e *PipeError) Error() string {
	return fmt.Sprintf("%s pipe %s: %s", e.Slot, e.Op, e.Err)
}

func (e *PipeError) Unwrap() error { return e.Err }

// SinkError is a failure of the in-process sink attached to stdout or stderr.
type SinkError struct {
	Slot Slot
	Op   string
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s sink %s: %s", e.Slot, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// SourceError is a failure reading the in-process source attached to stdin.
type SourceError struct {
	Slot Slot
	Err  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s source read: %s", e.Slot, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }
