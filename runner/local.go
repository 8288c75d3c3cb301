package runner

import (
	"context"
	"syscall"

	"github.com/guseggert/procpipe/subprocess"
	"go.uber.org/zap"
)

// Local runs processes directly on this host.
type Local struct {
	Log *zap.SugaredLogger
}

type localProc struct {
	proc *subprocess.Subprocess
}

func (p *localProc) Wait(ctx context.Context) (subprocess.Result, error) { return p.proc.Wait(ctx) }

func (p *localProc) Signal(ctx context.Context, sig syscall.Signal) error { return p.proc.Signal(sig) }

// Start ignores ctx for the lifetime of the process, which is bounded only by args.Timeout.
func (l *Local) Start(ctx context.Context, args subprocess.Args) (Process, error) {
	if args.Logger == nil && l.Log != nil {
		args.Logger = l.Log.Named("local")
	}
	proc, err := subprocess.Start(args)
	if err != nil {
		return nil, err
	}
	return &localProc{proc: proc}, nil
}
