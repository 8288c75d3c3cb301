package subprocess

import (
	"context"

	"github.com/guseggert/procpipe/sink"
)

// Exec runs a process to completion. Absent stdout and stderr targets default to Inherit.
// A non-zero exit is not an error; inspect the Result.
func Exec(ctx context.Context, args Args) (Result, error) {
	if args.Stdout.Kind() == KindAbsent {
		args.Stdout = Inherit()
	}
	if args.Stderr.Kind() == KindAbsent {
		args.Stderr = Inherit()
	}
	proc, err := Start(args)
	if err != nil {
		return Result{}, err
	}
	return proc.Wait(ctx)
}

// ExecOutput runs a process to completion and returns its stdout as text.
// Stdout is captured in a sink.Buffer configured by opts and must not be set in args; an absent stderr defaults to Inherit.
// An overflowing buffer or any process failure is returned as an error, a non-zero exit is not.
func ExecOutput(ctx context.Context, args Args, opts ...sink.BufferOption) (string, Result, error) {
	if args.Stdout.Kind() != KindAbsent {
		return "", Result{}, configErrorf("stdout is captured by ExecOutput and must not be set")
	}
	if args.Stderr.Kind() == KindAbsent {
		args.Stderr = Inherit()
	}
	stdout := sink.NewBuffer(opts...)
	args.Stdout = Writer(stdout)

	proc, err := Start(args)
	if err != nil {
		return "", Result{}, err
	}
	res, err := proc.Wait(ctx)
	if err != nil {
		return stdout.String(), res, err
	}
	out, err := stdout.WaitString(ctx)
	return out, res, err
}
