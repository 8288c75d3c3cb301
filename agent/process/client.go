package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/guseggert/procpipe/future"
	"github.com/guseggert/procpipe/subprocess"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Client struct {
	HTTPClient *http.Client
	URL        string
	Logger     *zap.SugaredLogger
}

// Process is a process running on the remote end of a WebSocket connection.
type Process struct {
	runner *clientProcRunner
}

// Wait returns once the remote process has exited and every local sink has been written and closed.
func (p *Process) Wait(ctx context.Context) (subprocess.Result, error) {
	return p.runner.wait(ctx)
}

func (p *Process) Signal(ctx context.Context, sig syscall.Signal) error {
	return p.runner.signal(ctx, sig)
}

// PID returns the remote process ID once the server has reported it, or 0.
func (p *Process) PID() int {
	p.runner.mut.Lock()
	defer p.runner.mut.Unlock()
	return p.runner.pid
}

// outputSlot is the local side of a remote stdout or stderr stream.
type outputSlot struct {
	slot subprocess.Slot
	w    io.Writer
	// closeW is false for writers the caller keeps ownership of, like os.Stdout.
	closeW bool
	done   *future.Future[struct{}]
	failed bool
}

// StartProc starts args.Command on the server. Targets are translated to streams: Inherit uses this process's
// own standard streams, Bytes/Reader/File feed stdin, Writer/File receive output, and Ignore/absent targets are discarded remotely.
// The remote process is killed if ctx is done before it exits.
func (c *Client) StartProc(ctx context.Context, args subprocess.Args) (*Process, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}

	c.Logger.Debugw("dialing WebSocket for run", "URL", c.URL)
	wsConn, _, err := websocket.Dial(ctx, c.URL, &websocket.DialOptions{
		HTTPClient:      c.HTTPClient,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		c.Logger.Debugf("dial error: %s", err)
		return nil, fmt.Errorf("establishing WebSocket conn to run: %w", err)
	}
	wsConn.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(ctx)
	runner := &clientProcRunner{
		conn:   wsConn,
		log:    c.Logger.Named("command_runner"),
		ctx:    ctx,
		cancel: cancel,
		args:   args,
		stdin:  inputReader(args.Stdin),
		stdout: newOutputSlot(subprocess.Stdout, args.Stdout),
		stderr: newOutputSlot(subprocess.Stderr, args.Stderr),
		result: future.New[subprocess.Result](),
	}

	err = runner.run()
	if err != nil {
		return nil, err
	}
	return &Process{runner: runner}, nil
}

func inputReader(t subprocess.Target) io.Reader {
	if t.Kind() == subprocess.KindInherit {
		return os.Stdin
	}
	return t.InputReader()
}

func newOutputSlot(slot subprocess.Slot, t subprocess.Target) *outputSlot {
	o := &outputSlot{slot: slot, done: future.New[struct{}]()}
	switch t.Kind() {
	case subprocess.KindInherit:
		o.w = os.Stdout
		if slot == subprocess.Stderr {
			o.w = os.Stderr
		}
	case subprocess.KindFile:
		o.w = t.OutputWriter()
	case subprocess.KindWriter:
		o.w = t.OutputWriter()
		o.closeW = true
	default:
		return nil
	}
	return o
}

type clientProcRunner struct {
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()
	args   subprocess.Args

	stdin  io.Reader
	stdout *outputSlot
	stderr *outputSlot

	result *future.Future[subprocess.Result]

	mut sync.Mutex
	pid int

	wg sync.WaitGroup

	closeConnOnce sync.Once
}

func (r *clientProcRunner) shutdown() {
	r.cancel()
	r.wg.Wait()
}

func (r *clientProcRunner) run() error {
	err := r.writeFirstMessage()
	if err != nil {
		r.close(websocket.StatusInternalError, err.Error())
		r.shutdown()
		return fmt.Errorf("writing first message: %w", err)
	}

	r.wg.Add(1)
	go r.readMessages()
	// stdin is not tracked by the wait group since reading it may block forever, e.g. on os.Stdin
	go r.writeStdin()
	return nil
}

func (r *clientProcRunner) wait(ctx context.Context) (subprocess.Result, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, o := range []*outputSlot{r.stdout, r.stderr} {
		if o == nil {
			continue
		}
		o := o
		group.Go(func() error {
			_, err := o.done.Wait(groupCtx)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return subprocess.Result{}, err
	}
	res, err := r.result.Wait(ctx)
	r.log.Debugw("got result", "Result", res.String(), "Error", err)
	return res, err
}

func (r *clientProcRunner) signal(ctx context.Context, sig syscall.Signal) error {
	return wsjson.Write(ctx, r.conn, procRequestMessage{
		Signal: sig,
	})
}

func (r *clientProcRunner) close(code websocket.StatusCode, reason string) {
	// websocket reason can't be above 123 chars
	if len(reason) > 100 {
		reason = reason[0:100]
	}
	r.closeConnOnce.Do(func() {
		err := r.conn.Close(code, reason)
		if err != nil {
			r.log.Debugf("error closing conn: %s", err)
		}
	})
}

// failAll settles everything still pending with err, so waiters are released when the connection dies.
func (r *clientProcRunner) failAll(err error) {
	for _, o := range []*outputSlot{r.stdout, r.stderr} {
		if o != nil && !o.done.Settled() {
			r.fail(o, err)
		}
	}
	_ = r.result.Reject(err)
}

func (r *clientProcRunner) fail(o *outputSlot, err error) {
	o.failed = true
	if ec, ok := o.w.(interface{ CloseWithError(error) error }); ok && o.closeW {
		_ = ec.CloseWithError(err)
	}
	_ = o.done.Reject(err)
}

// deliver writes remote output to the local writer. After a failure the remaining bytes of that stream are dropped.
func (r *clientProcRunner) deliver(o *outputSlot, p fdPayload) {
	if o == nil || o.failed || o.done.Settled() {
		return
	}
	if len(p.B) > 0 {
		n, err := o.w.Write(p.B)
		if err == nil && n != len(p.B) {
			err = io.ErrShortWrite
		}
		if err != nil {
			r.log.Debugf("%s writer got error: %s", o.slot, err)
			r.fail(o, &subprocess.SinkError{Slot: o.slot, Op: "write", Err: err})
			return
		}
	}
	if p.Done {
		if closer, ok := o.w.(io.Closer); ok && o.closeW {
			if err := closer.Close(); err != nil {
				r.fail(o, &subprocess.SinkError{Slot: o.slot, Op: "close", Err: err})
				return
			}
		}
		_ = o.done.Resolve(struct{}{})
	}
}

func (r *clientProcRunner) readMessages() {
	defer r.shutdown()
	defer r.wg.Done()

	// The client always initiates the close when it decides that it's done.
	// The server only reports the exit once stdout and stderr are drained, so once we get the exit message
	// no more stdout and stderr will arrive.
	for {
		var msg procResponseMessage
		err := wsjson.Read(r.ctx, r.conn, &msg)
		if websocket.CloseStatus(err) != -1 {
			r.failAll(fmt.Errorf("conn unexpectedly closed: %w", err))
			return
		}
		if err != nil {
			r.log.Debugf("message reader got error: %s", err)
			r.failAll(err)
			r.close(websocket.StatusInternalError, err.Error())
			return
		}
		if msg.PID != 0 {
			r.mut.Lock()
			r.pid = msg.PID
			r.mut.Unlock()
		}
		r.deliver(r.stdout, msg.Stdout)
		r.deliver(r.stderr, msg.Stderr)
		if msg.Exited {
			if msg.Err != "" {
				r.failAll(fmt.Errorf("remote: %s", msg.Err))
			} else if msg.Result != nil {
				_ = r.result.Resolve(subprocess.Result{
					Kind:     subprocess.ResultKind(msg.Result.Kind),
					Code:     msg.Result.Code,
					Signal:   msg.Result.Signal,
					Duration: time.Duration(msg.Result.TimeMS) * time.Millisecond,
				})
			}
			r.failAll(errors.New("remote process exited without a result"))
			r.close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func (r *clientProcRunner) writeFirstMessage() error {
	req := &procReq{
		Command: r.args.Command,
		Env:     r.args.Env,
		WD:      r.args.Dir,
		UID:     r.args.UID,
		GID:     r.args.GID,
		Shell:   r.args.Shell,
		Stdin:   fdConfig{Discard: r.stdin == nil, Inherit: r.args.Stdin.Kind() == subprocess.KindInherit},
		Stdout:  fdConfig{Discard: r.stdout == nil},
		Stderr:  fdConfig{Discard: r.stderr == nil},
	}
	if r.args.Timeout > 0 {
		req.TimeoutMS = r.args.Timeout.Milliseconds()
		req.KillSignal = r.args.KillSignal
	}
	return wsjson.Write(r.ctx, r.conn, procRequestMessage{Req: req})
}

func (r *clientProcRunner) writeStdin() {
	if r.stdin == nil {
		return
	}

	writer := &wsJSONWriter{
		log:  r.log.Named("stdin_writer"),
		ctx:  r.ctx,
		conn: r.conn,
		writeMsg: func(b []byte) any {
			return procRequestMessage{Stdin: fdPayload{B: b}}
		},
		closeMsg: func() any {
			return procRequestMessage{Stdin: fdPayload{Done: true}}
		},
	}
	defer writer.Close()
	_, err := io.Copy(writer, r.stdin)
	r.log.Debugw("done copying stdin", "Error", err)
}
