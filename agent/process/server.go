package process

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/procpipe/sink"
	"github.com/guseggert/procpipe/source"
	"github.com/guseggert/procpipe/subprocess"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

type Server struct {
	Log *zap.SugaredLogger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		s.Log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	wsConn.SetReadLimit(readLimit)
	session := uuid.NewString()
	s.Log.Debugw("accepted WebSocket conn", "Session", session)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	runner := &serverProcRunner{
		log:    s.Log.Named("server_runner").With("Session", session),
		conn:   wsConn,
		ctx:    ctx,
		cancel: cancel,
	}
	runner.run()
}

type serverProcRunner struct {
	log    *zap.SugaredLogger
	conn   *websocket.Conn
	ctx    context.Context
	cancel func()

	proc  *subprocess.Subprocess
	stdin *source.Writer
	// stdinPipe is set for an inherited stdin: the process reads the native pipe directly and
	// a feeder copies stdin into it until the process exits.
	stdinPipe *inheritedPipe

	wg sync.WaitGroup

	closeConnOnce sync.Once
}

func (r *serverProcRunner) run() {
	req, err := r.readFirstMessage()
	if err != nil {
		r.log.Debugf("error reading first message: %s", err)
		r.close(websocket.StatusInternalError, fmt.Sprintf("reading first message: %s", err))
		return
	}

	args, err := r.args(req)
	if err != nil {
		r.log.Debugf("error preparing process: %s", err)
		r.writeResult(subprocess.Result{}, err)
		r.close(websocket.StatusNormalClosure, "")
		return
	}
	proc, err := subprocess.Start(args)
	if err != nil {
		r.log.Debugf("invalid start request: %s", err)
		r.stdinPipe.abort()
		r.writeResult(subprocess.Result{}, err)
		r.close(websocket.StatusNormalClosure, "")
		return
	}
	r.stdinPipe.feed(r.log, r.stdin)
	r.proc = proc
	r.log.Debugw("process started", "PID", proc.PID())
	if err := wsjson.Write(r.ctx, r.conn, procResponseMessage{PID: proc.PID()}); err != nil {
		r.log.Debugf("error sending PID: %s", err)
	}

	r.wg.Add(1)
	go r.readMessages()

	res, err := proc.Wait(r.ctx)
	r.stdinPipe.stop(r.stdin)
	r.writeResult(res, err)

	r.wg.Wait()
}

func (r *serverProcRunner) writeResult(res subprocess.Result, resErr error) {
	msg := procResponseMessage{Exited: true}
	if resErr != nil {
		msg.Err = resErr.Error()
	} else {
		msg.Result = &procResult{
			Kind:   int(res.Kind),
			Code:   res.Code,
			Signal: res.Signal,
			TimeMS: res.Duration.Milliseconds(),
		}
	}
	r.log.Debugw("sending exit message", "Result", res.String(), "Error", resErr)
	if err := wsjson.Write(r.ctx, r.conn, msg); err != nil {
		r.log.Debugf("error sending exit message: %s", err)
	}
}

func (r *serverProcRunner) close(code websocket.StatusCode, reason string) {
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

// kill stops a process that is still running when its connection goes away.
func (r *serverProcRunner) kill() {
	if r.proc.Running() {
		r.log.Debug("connection gone, killing process")
		if err := r.proc.Signal(os.Kill); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.log.Debugf("error killing process: %s", err)
		}
	}
}

func (r *serverProcRunner) readMessages() {
	defer r.wg.Done()

	for {
		var msg procRequestMessage
		err := wsjson.Read(r.ctx, r.conn, &msg)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			r.log.Debug("got normal closure from client, wrapping up")
			r.closeStdin(nil)
			r.kill()
			return
		}
		if err != nil {
			r.log.Debugf("message reader got error: %s", err)
			r.closeStdin(err)
			r.kill()
			r.close(websocket.StatusInternalError, err.Error())
			r.cancel()
			return
		}
		if len(msg.Stdin.B) > 0 && r.stdin != nil {
			if err := r.stdin.WriteBuffer(msg.Stdin.B); err != nil {
				r.log.Debugf("dropping stdin bytes: %s", err)
			}
		}
		if msg.Stdin.Done {
			r.closeStdin(nil)
		}
		if msg.Signal != 0 {
			r.log.Debugw("signaling process", "Signal", subprocess.SignalName(msg.Signal))
			if err := r.proc.Signal(msg.Signal); err != nil {
				r.log.Debugf("error signaling process: %s", err)
			}
		}
	}
}

func (r *serverProcRunner) closeStdin(err error) {
	if r.stdin != nil {
		_ = r.stdin.CloseWithError(err)
	}
}

func (r *serverProcRunner) readFirstMessage() (*procReq, error) {
	var msg procRequestMessage
	err := wsjson.Read(r.ctx, r.conn, &msg)
	if err != nil {
		return nil, err
	}
	if msg.Req == nil {
		return nil, errors.New("first message has no start request")
	}
	r.log.Debugw("got first message", "Command", msg.Req.Command)
	return msg.Req, nil
}

func (r *serverProcRunner) args(req *procReq) (subprocess.Args, error) {
	args := subprocess.Args{
		Command:    req.Command,
		Env:        req.Env,
		Dir:        req.WD,
		Timeout:    time.Duration(req.TimeoutMS) * time.Millisecond,
		KillSignal: req.KillSignal,
		UID:        req.UID,
		GID:        req.GID,
		Shell:      req.Shell,
		Logger:     r.log,
		Stdin:      subprocess.Ignore(),
		Stdout:     subprocess.Ignore(),
		Stderr:     subprocess.Ignore(),
	}
	switch {
	case req.Stdin.Inherit:
		pipe, err := newInheritedPipe()
		if err != nil {
			return args, err
		}
		r.stdin = source.NewWriter()
		r.stdinPipe = pipe
		args.Stdin = subprocess.File(pipe.child)
	case !req.Stdin.Discard:
		r.stdin = source.NewWriter()
		args.Stdin = subprocess.Reader(r.stdin)
	}
	if !req.Stdout.Discard {
		args.Stdout = subprocess.Writer(r.outputSink(subprocess.Stdout))
	}
	if !req.Stderr.Discard {
		args.Stderr = subprocess.Writer(r.outputSink(subprocess.Stderr))
	}
	return args, nil
}

// outputSink streams a process output slot to the client, ending it with the slot's Done flag.
func (r *serverProcRunner) outputSink(slot subprocess.Slot) *sink.Callback {
	payload := func(p fdPayload) procResponseMessage {
		if slot == subprocess.Stdout {
			return procResponseMessage{Stdout: p}
		}
		return procResponseMessage{Stderr: p}
	}
	return &sink.Callback{
		OnData: func(b []byte) error {
			return sendChunked(r.ctx, r.conn, b, func(b []byte) any {
				return payload(fdPayload{B: b})
			})
		},
		OnClose: func() error {
			return wsjson.Write(r.ctx, r.conn, payload(fdPayload{Done: true}))
		},
	}
}
