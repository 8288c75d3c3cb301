package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/guseggert/procpipe/agent/process"
	"github.com/guseggert/procpipe/sink"
	"github.com/guseggert/procpipe/subprocess"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Agent is an HTTP server that runs processes on behalf of remote clients.
// It has no authentication, so it listens on loopback unless told otherwise.
type Agent struct {
	logger *zap.SugaredLogger

	heartbeatFailureHandler func()
	heartbeatTimeout        time.Duration
	listenAddr              string
	maxOutputSize           int

	httpServer *http.Server
	procServer *process.Server

	mut           sync.Mutex
	closed        chan struct{}
	closeOnce     sync.Once
	lastHeartbeat time.Time
}

type Option func(a *Agent)

// WithHeartbeatTimeout sets how long the agent waits for a heartbeat before calling the heartbeat failure handler.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(a *Agent) {
		a.heartbeatTimeout = d
	}
}

func WithHeartbeatFailureHandler(f func()) Option {
	return func(a *Agent) {
		a.heartbeatFailureHandler = f
	}
}

func WithListenAddr(s string) Option {
	return func(a *Agent) {
		a.listenAddr = s
	}
}

// WithMaxOutputSize caps the stdout and stderr captured by POST /proc. Zero means no limit.
func WithMaxOutputSize(n int) Option {
	return func(a *Agent) {
		a.maxOutputSize = n
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Agent) {
		a.logger = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(a *Agent) {
		a.logger = a.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

func HeartbeatFailureExit() {
	fmt.Println("heartbeat failed, exiting")
	os.Exit(1)
}

// New constructs a new agent.
func New(opts ...Option) (*Agent, error) {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	a := &Agent{
		logger:           logger.Named("agent").Sugar(),
		heartbeatTimeout: 1 * time.Minute,
		listenAddr:       "127.0.0.1:8080",
		closed:           make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	a.procServer = &process.Server{Log: a.logger.Named("proc_server")}
	return a, nil
}

// startHeartbeatCheck starts a goroutine that calls the failure handler when no heartbeat arrives in time.
func (a *Agent) startHeartbeatCheck() {
	if a.heartbeatFailureHandler == nil {
		return
	}
	go func() {
		a.mut.Lock()
		a.lastHeartbeat = time.Now()
		a.mut.Unlock()

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-a.closed:
				return
			case <-ticker.C:
			}

			a.mut.Lock()
			lastHeartbeat := a.lastHeartbeat
			a.mut.Unlock()

			if lastHeartbeat.Add(a.heartbeatTimeout).Before(time.Now()) {
				a.heartbeatFailureHandler()
			}
		}
	}()
}

// Handler returns the agent's routes.
func (a *Agent) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/heartbeat", a.heartbeat)
	router.GET("/proc", a.procWS)
	router.POST("/proc", a.proc)
	return router
}

func (a *Agent) runHTTPServer() error {
	listener, err := net.Listen("tcp", a.listenAddr)
	if err != nil {
		return fmt.Errorf("listening TCP: %w", err)
	}

	server := &http.Server{Handler: a.Handler()}
	a.mut.Lock()
	a.httpServer = server
	a.mut.Unlock()

	a.logger.Infow("listening", "Addr", listener.Addr().String())
	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run runs the agent and returns once it has stopped.
func (a *Agent) Run() error {
	a.startHeartbeatCheck()
	return a.runHTTPServer()
}

func (a *Agent) Stop() error {
	a.closeOnce.Do(func() { close(a.closed) })
	a.mut.Lock()
	server := a.httpServer
	a.mut.Unlock()
	if server == nil {
		return nil
	}
	return server.Close()
}

func (a *Agent) heartbeat(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.mut.Lock()
	lastHeartbeat := a.lastHeartbeat
	a.lastHeartbeat = time.Now()
	a.mut.Unlock()
	response := struct {
		LastHeartbeat string
	}{
		LastHeartbeat: lastHeartbeat.UTC().Format(time.RFC3339),
	}
	writeJSON(w, http.StatusOK, response)
}

func (a *Agent) procWS(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	a.procServer.ServeHTTP(w, r)
}

type PostProcRequest struct {
	Command   []string
	Stdin     string
	Env       map[string]string
	Dir       string
	TimeoutMS int64
	Shell     string
}

type PostProcResponse struct {
	// Kind mirrors subprocess.ResultKind.
	Kind   int
	Code   int
	Signal string
	TimeMS int64
	Stdout string
	Stderr string
}

// proc is a simple process runner which takes a stdin buffer and sends all of stdout and stderr in the response.
// This is much easier to curl and write simple clients against, but doesn't support streaming input & output.
func (a *Agent) proc(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	var req PostProcRequest
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stdout := sink.NewBuffer(sink.WithMaxSize(a.maxOutputSize))
	stderr := sink.NewBuffer(sink.WithMaxSize(a.maxOutputSize))
	args := subprocess.Args{
		Command: req.Command,
		Env:     req.Env,
		Dir:     req.Dir,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
		Shell:   req.Shell,
		Logger:  a.logger.Named("post_proc"),
		Stdin:   subprocess.Bytes([]byte(req.Stdin)),
		Stdout:  subprocess.Writer(stdout),
		Stderr:  subprocess.Writer(stderr),
	}

	proc, err := subprocess.Start(args)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// If the request is aborted, kill the process.
	// In the normal case, this is a no-op as the process will already be finished when the context is done.
	go func() {
		<-r.Context().Done()
		if proc.Running() {
			_ = proc.Signal(syscall.SIGKILL)
		}
	}()

	res, err := proc.Wait(r.Context())
	if err != nil {
		a.logger.Debugw("process failed", "Command", req.Command, "Error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, PostProcResponse{
		Kind:   int(res.Kind),
		Code:   res.Code,
		Signal: res.Signal,
		TimeMS: res.Duration.Milliseconds(),
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}
