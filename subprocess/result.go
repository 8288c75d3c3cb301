package subprocess

import (
	"os"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

type ResultKind int

const (
	// ResultUnknown means neither an exit code nor a signal could be determined.
	ResultUnknown ResultKind = iota
	// ResultExited means the process returned an exit code.
	ResultExited
	// ResultSignaled means the process was terminated by a signal.
	ResultSignaled
)

// Result is the exit status of a process: exactly one of an exit code, a signal name, or nothing.
type Result struct {
	Kind ResultKind
	// Code is the exit code, valid when Kind is ResultExited.
	Code int
	// Signal is the name of the terminating signal (e.g. "SIGTERM"), valid when Kind is ResultSignaled.
	Signal string
	// Duration is the time between spawning the process and observing its exit.
	Duration time.Duration
}

// String renders the result as the exit code, the signal name, or the empty string.
func (r Result) String() string {
	switch r.Kind {
	case ResultExited:
		return strconv.Itoa(r.Code)
	case ResultSignaled:
		return r.Signal
	default:
		return ""
	}
}

func (r Result) Success() bool {
	return r.Kind == ResultExited && r.Code == 0
}

func resultFromState(state *os.ProcessState, d time.Duration) Result {
	res := Result{Duration: d}
	ws, ok := state.Sys().(syscall.WaitStatus)
	if !ok {
		if state.Exited() {
			res.Kind = ResultExited
			res.Code = state.ExitCode()
		}
		return res
	}
	switch {
	case ws.Exited():
		res.Kind = ResultExited
		res.Code = ws.ExitStatus()
	case ws.Signaled():
		res.Kind = ResultSignaled
		res.Signal = SignalName(ws.Signal())
	}
	return res
}

// SignalName returns the conventional name of sig, such as "SIGKILL".
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return sig.String()
}
