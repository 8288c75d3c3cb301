package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/procpipe/agent/process"
	"github.com/guseggert/procpipe/runner"
	"github.com/guseggert/procpipe/subprocess"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// Client talks to an Agent. It implements runner.Runner.
type Client struct {
	Logger *zap.SugaredLogger
	// HTTPClient retries failed requests. It is used for heartbeats and for dialing WebSockets.
	HTTPClient *http.Client
	// RunClient never retries, so a process is never started twice.
	RunClient *http.Client

	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)
	procClient               *process.Client

	waitInterval time.Duration

	startHeartbeatOnce sync.Once
	stopHeartbeatOnce  sync.Once
	stopHeartbeat      chan struct{}
}

var _ runner.Runner = (*Client)(nil)

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("agent_client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the agent listening on addr (host:port).
func NewClient(log *zap.SugaredLogger, addr string, opts ...ClientOption) (*Client, error) {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("parsing agent addr: %w", err)
	}
	baseURL := "http://" + addr

	c := &Client{
		Logger:        log.Named("agent_client"),
		baseURL:       baseURL,
		waitInterval:  100 * time.Millisecond,
		stopHeartbeat: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	dialer := &net.Dialer{Timeout: 5 * time.Second}
	transport := &http.Transport{DialContext: dialer.DialContext}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = &http.Client{Transport: transport}
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}

	c.HTTPClient = retryClient.StandardClient()
	c.RunClient = &http.Client{Transport: transport}
	c.procClient = &process.Client{
		HTTPClient: c.HTTPClient,
		URL:        baseURL + "/proc",
		Logger:     c.Logger.Named("proc_client"),
	}

	return c, nil
}

func (c *Client) prepReq(r *http.Request) {
	r.Header.Add("Content-Type", "application/json")
	r.Close = true
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/heartbeat", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	c.prepReq(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected heartbeat status code %d", resp.StatusCode)
	}
	return nil
}

// Run runs a process to completion with POST /proc, buffering its stdin, stdout, and stderr.
// A non-zero exit is reported in the response, not as an error.
func (c *Client) Run(ctx context.Context, req PostProcRequest) (*PostProcResponse, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/proc", bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	c.prepReq(httpReq)

	httpResp, err := c.RunClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("running over HTTP: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		var body string
		b, err := io.ReadAll(httpResp.Body)
		if err != nil {
			body = fmt.Errorf("error reading body: %w", err).Error()
		} else {
			body = string(b)
		}
		return nil, fmt.Errorf("non-200 HTTP status code %d received when running: %s", httpResp.StatusCode, body)
	}

	var resp PostProcResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &resp, nil
}

// StartProc starts a process on the agent, streaming its stdio over a WebSocket.
func (c *Client) StartProc(ctx context.Context, args subprocess.Args) (*process.Process, error) {
	return c.procClient.StartProc(ctx, args)
}

func (c *Client) Start(ctx context.Context, args subprocess.Args) (runner.Process, error) {
	proc, err := c.StartProc(ctx, args)
	if err != nil {
		return nil, err
	}
	return proc, nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

// StartHeartbeat keeps the agent's heartbeat check satisfied until StopHeartbeat is called.
func (c *Client) StartHeartbeat() {
	go c.startHeartbeatOnce.Do(func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopHeartbeat:
				return
			case <-ticker.C:
			}
			err := c.SendHeartbeat(context.Background())
			if err != nil {
				c.Logger.Debugf("heartbeat error: %s", err)
			}
		}
	})
}

func (c *Client) StopHeartbeat() {
	c.stopHeartbeatOnce.Do(func() { close(c.stopHeartbeat) })
}
