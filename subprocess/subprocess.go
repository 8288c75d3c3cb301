package subprocess

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/guseggert/procpipe/future"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ShellDefault is the shell used when Args.Shell asks for shell interpretation without naming a shell.
const ShellDefault = "/bin/sh"

type Args struct {
	// Command is the argument vector. The first element is the executable, resolved via PATH.
	Command []string
	// Env replaces the parent's environment when non-nil. An empty non-nil map runs the process with no environment.
	Env map[string]string
	// Dir is the working directory. If empty, the parent's working directory is used.
	Dir string
	// Timeout, if positive, is how long the process may run before it is sent KillSignal.
	Timeout time.Duration
	// KillSignal is sent when Timeout expires. Defaults to SIGTERM.
	KillSignal syscall.Signal
	// UID and GID, if set, are the credentials the process runs with.
	UID *uint32
	GID *uint32
	// Shell, if set, runs Command joined by spaces through "<Shell> -c". Use ShellDefault for /bin/sh.
	Shell string

	Stdin  Target
	Stdout Target
	Stderr Target

	Logger *zap.SugaredLogger
}

// Subprocess is a running (or finished) process together with the copy loops attached to its standard streams.
type Subprocess struct {
	args Args
	log  *zap.SugaredLogger
	cmd  *exec.Cmd

	// pipes holds the completion of each slot's copy loop, nil for slots without a pipe.
	pipes [3]*future.Future[struct{}]
	exit  *future.Future[Result]

	timer *time.Timer

	mut      sync.Mutex
	started  bool
	exited   bool
	exitCode int
}

// Validate checks the command and the direction of every target without touching the OS.
func (a Args) Validate() error {
	if len(a.Command) == 0 || a.Command[0] == "" {
		return configErrorf("command is required")
	}
	for i, t := range [3]Target{a.Stdin, a.Stdout, a.Stderr} {
		if err := t.validate(Slot(i)); err != nil {
			return err
		}
	}
	return nil
}

// stdioPlan is what a slot resolves to before the process is spawned.
type stdioPlan struct {
	// child is the file given to the process, nil for the null device.
	child *os.File
	// parent is our end of a native pipe, nil when the slot is not piped.
	parent *os.File
	// closeChild is set when child is a pipe end we created and must close after spawning.
	closeChild bool
}

// Start validates args and spawns the process.
// Only configuration errors are returned here; a failure to create the process is reported by Wait.
func Start(args Args) (*Subprocess, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	targets := [3]Target{args.Stdin, args.Stdout, args.Stderr}
	if args.KillSignal == 0 {
		args.KillSignal = syscall.SIGTERM
	}
	log := args.Logger
	if log == nil {
		log = defaultLogger
	}

	s := &Subprocess{
		args: args,
		log:  log.With("Command", args.Command),
		exit: future.New[Result](),
	}
	s.spawn(targets)
	return s, nil
}

func (s *Subprocess) buildCmd() *exec.Cmd {
	var cmd *exec.Cmd
	if s.args.Shell != "" {
		cmd = exec.Command(s.args.Shell, "-c", strings.Join(s.args.Command, " "))
	} else {
		cmd = exec.Command(s.args.Command[0], s.args.Command[1:]...)
	}
	cmd.Dir = s.args.Dir
	if s.args.Env != nil {
		cmd.Env = envList(s.args.Env)
	}
	if s.args.UID != nil || s.args.GID != nil {
		cred := &syscall.Credential{
			Uid:         uint32(os.Getuid()),
			Gid:         uint32(os.Getgid()),
			NoSetGroups: os.Getuid() != 0,
		}
		if s.args.UID != nil {
			cred.Uid = *s.args.UID
		}
		if s.args.GID != nil {
			cred.Gid = *s.args.GID
		}
		cmd.SysProcAttr = &syscall.SysProcAttr{Credential: cred}
	}
	return cmd
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

func planStdio(slot Slot, t Target) (stdioPlan, error) {
	switch t.kind {
	case KindInherit:
		return stdioPlan{child: [3]*os.File{os.Stdin, os.Stdout, os.Stderr}[slot]}, nil
	case KindFile:
		return stdioPlan{child: t.file}, nil
	}
	if !t.piped() {
		return stdioPlan{}, nil
	}
	r, w, err := os.Pipe()
	if err != nil {
		return stdioPlan{}, &PipeError{Slot: slot, Op: "open", Err: err}
	}
	if slot == Stdin {
		return stdioPlan{child: r, parent: w, closeChild: true}, nil
	}
	return stdioPlan{child: w, parent: r, closeChild: true}, nil
}

func (s *Subprocess) spawn(targets [3]Target) {
	var plans [3]stdioPlan
	fail := func(err error) {
		for _, p := range plans {
			if p.closeChild {
				p.child.Close()
			}
			if p.parent != nil {
				p.parent.Close()
			}
		}
		s.log.Debugw("spawn failed", "Error", err)
		_ = s.exit.Reject(&SpawnError{Command: s.args.Command, Err: err})
	}

	for i, t := range targets {
		p, err := planStdio(Slot(i), t)
		if err != nil {
			fail(err)
			return
		}
		plans[i] = p
	}

	cmd := s.buildCmd()
	// Assigning nil *os.File values would give exec a non-nil io.Reader/io.Writer, so only set real files.
	if plans[Stdin].child != nil {
		cmd.Stdin = plans[Stdin].child
	}
	if plans[Stdout].child != nil {
		cmd.Stdout = plans[Stdout].child
	}
	if plans[Stderr].child != nil {
		cmd.Stderr = plans[Stderr].child
	}
	s.cmd = cmd

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		fail(err)
		return
	}

	s.mut.Lock()
	s.started = true
	s.mut.Unlock()
	s.log = s.log.With("PID", cmd.Process.Pid)
	s.log.Debug("process started")

	// the child has its own copies now
	for _, p := range plans {
		if p.closeChild {
			p.child.Close()
		}
	}

	for i, p := range plans {
		if p.parent == nil {
			continue
		}
		slot := Slot(i)
		done := future.New[struct{}]()
		s.pipes[slot] = done
		if slot == Stdin {
			go s.copyIn(p.parent, targets[slot].InputReader(), done)
		} else {
			go s.copyOut(slot, p.parent, targets[slot].writer, done)
		}
	}

	if s.args.Timeout > 0 {
		s.timer = time.AfterFunc(s.args.Timeout, func() {
			s.log.Debugw("timeout expired, signaling process", "Timeout", s.args.Timeout, "Signal", SignalName(s.args.KillSignal))
			if err := cmd.Process.Signal(s.args.KillSignal); err != nil && !errors.Is(err, os.ErrProcessDone) {
				s.log.Debugf("error signaling process: %s", err)
			}
		})
	}

	go s.waitExit(startTime)
}

func (s *Subprocess) waitExit(startTime time.Time) {
	err := s.cmd.Wait()
	duration := time.Since(startTime)
	if s.timer != nil {
		s.timer.Stop()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			s.log.Debugf("unexpected wait error: %s", err)
			s.markExited(-1)
			_ = s.exit.Reject(fmt.Errorf("waiting for process: %w", err))
			return
		}
	}

	res := resultFromState(s.cmd.ProcessState, duration)
	s.markExited(s.cmd.ProcessState.ExitCode())
	s.log.Debugw("process exited", "Result", res.String(), "Duration", duration)
	_ = s.exit.Resolve(res)
}

func (s *Subprocess) markExited(code int) {
	s.mut.Lock()
	defer s.mut.Unlock()
	s.exited = true
	s.exitCode = code
}

// Wait blocks until every piped slot has drained or failed and the process has exited, then returns the exit status.
// The first slot failure is returned instead of the status. Wait may be called any number of times.
// Cancelling ctx abandons the wait only; the process and copy loops keep running.
func (s *Subprocess) Wait(ctx context.Context) (Result, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, done := range s.pipes {
		if done == nil {
			continue
		}
		done := done
		group.Go(func() error {
			_, err := done.Wait(groupCtx)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return Result{}, err
	}
	return s.exit.Wait(ctx)
}

// Signal sends sig to the process.
func (s *Subprocess) Signal(sig os.Signal) error {
	if s.PID() == 0 {
		return errors.New("process was not started")
	}
	return s.cmd.Process.Signal(sig)
}

// PID returns the OS process ID, or 0 if the process could not be spawned.
func (s *Subprocess) PID() int {
	s.mut.Lock()
	defer s.mut.Unlock()
	if !s.started {
		return 0
	}
	return s.cmd.Process.Pid
}

// ExitCode returns the exit code once the process has exited; ok is false while it is still running.
// A process terminated by a signal reports -1.
func (s *Subprocess) ExitCode() (code int, ok bool) {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.exitCode, s.exited
}

func (s *Subprocess) Running() bool {
	s.mut.Lock()
	defer s.mut.Unlock()
	return s.started && !s.exited
}

func (s *Subprocess) Command() []string {
	return s.args.Command
}
