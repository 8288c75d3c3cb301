// Package runner abstracts where a subprocess runs, so callers can use the same code for local and remote execution.
package runner

import (
	"context"
	"fmt"
	"syscall"

	"github.com/guseggert/procpipe/sink"
	"github.com/guseggert/procpipe/subprocess"
)

// Process is a started process whose completion can be waited on.
type Process interface {
	// Wait returns once the process has exited and all of its stream copying has finished.
	Wait(ctx context.Context) (subprocess.Result, error)
	Signal(ctx context.Context, sig syscall.Signal) error
}

// Runner starts processes somewhere: on this host, or through a remote agent.
type Runner interface {
	Start(ctx context.Context, args subprocess.Args) (Process, error)
}

// RunWait starts the process and waits for it, treating anything other than a zero exit code as an error.
func RunWait(ctx context.Context, r Runner, args subprocess.Args) (subprocess.Result, error) {
	proc, err := r.Start(ctx, args)
	if err != nil {
		return subprocess.Result{}, err
	}
	res, err := proc.Wait(ctx)
	if err != nil {
		return res, fmt.Errorf("waiting for process to exit: %w", err)
	}
	switch res.Kind {
	case subprocess.ResultExited:
		if res.Code != 0 {
			return res, fmt.Errorf("non-zero exit code %d", res.Code)
		}
	case subprocess.ResultSignaled:
		return res, fmt.Errorf("terminated by signal %s", res.Signal)
	default:
		return res, fmt.Errorf("unknown exit status")
	}
	return res, nil
}

// Output runs the process with stdout captured and returns it once the process has exited.
// Like subprocess.ExecOutput, a non-zero exit is reported in the result, not as an error.
func Output(ctx context.Context, r Runner, args subprocess.Args, opts ...sink.BufferOption) (string, subprocess.Result, error) {
	if args.Stdout.Kind() != subprocess.KindAbsent {
		return "", subprocess.Result{}, fmt.Errorf("%w: stdout is captured by Output", subprocess.ErrConfiguration)
	}
	buf := sink.NewBuffer(opts...)
	args.Stdout = subprocess.Writer(buf)
	if args.Stderr.Kind() == subprocess.KindAbsent {
		args.Stderr = subprocess.Inherit()
	}
	proc, err := r.Start(ctx, args)
	if err != nil {
		return "", subprocess.Result{}, err
	}
	res, err := proc.Wait(ctx)
	if err != nil {
		return buf.String(), res, err
	}
	out, err := buf.WaitString(ctx)
	return out, res, err
}
