package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/guseggert/procpipe/agent"
	"github.com/guseggert/procpipe/runner"
	"github.com/guseggert/procpipe/sink"
	"github.com/guseggert/procpipe/subprocess"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sys/unix"
	"golang.org/x/text/encoding/htmlindex"
)

var logger *zap.Logger

var procFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "dir",
		Usage: "Working directory of the process.",
	},
	&cli.StringSliceFlag{
		Name:  "env",
		Usage: "Environment variable as K=V. Repeatable. When set, replaces the inherited environment.",
	},
	&cli.DurationFlag{
		Name:  "timeout",
		Usage: "Send --kill-signal to the process after this long.",
	},
	&cli.StringFlag{
		Name:  "kill-signal",
		Usage: "Signal sent when the timeout expires.",
		Value: "SIGTERM",
	},
	&cli.StringFlag{
		Name:  "shell",
		Usage: "Run the command joined by spaces through this shell with -c, e.g. " + subprocess.ShellDefault + ".",
	},
	&cli.StringFlag{
		Name:  "remote",
		Usage: "Address (host:port) of an agent to run the process on instead of this host.",
	},
}

func main() {
	app := &cli.App{
		Name:  "procpipe",
		Usage: "run processes and pipe their streams, locally or through an agent",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Minimum log level, one of [debug,info,warn,error].",
				Value: "warn",
			},
		},
		Before: func(ctx *cli.Context) error {
			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			logger = l.WithOptions(zap.IncreaseLevel(level))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Run a process with inherited stdio and exit with its exit code.",
				ArgsUsage: "-- cmd [args...]",
				Flags:     procFlags,
				Action:    runCmd,
			},
			{
				Name:      "output",
				Usage:     "Run a process and print its captured stdout once it exits.",
				ArgsUsage: "-- cmd [args...]",
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:  "max-size",
						Usage: "Fail once stdout exceeds this many bytes. Zero means no limit.",
					},
				}, procFlags...),
				Action: outputCmd,
			},
			{
				Name:      "lines",
				Usage:     "Run a process and print its stdout and stderr line by line as they arrive.",
				ArgsUsage: "-- cmd [args...]",
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "separator",
						Usage: "Line separator.",
						Value: "\n",
					},
					&cli.StringFlag{
						Name:  "encoding",
						Usage: "Encoding of the process output, e.g. latin1 or utf-16le.",
						Value: "utf-8",
					},
				}, procFlags...),
				Action: linesCmd,
			},
			{
				Name:  "agent",
				Usage: "Serve the agent, which runs processes for remote clients.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "listen-addr",
						Usage: "The address for the HTTP server to listen on.",
						Value: "127.0.0.1:8080",
					},
					&cli.IntFlag{
						Name:  "max-output-size",
						Usage: "Maximum stdout and stderr size buffered for POST /proc. Zero means no limit.",
					},
					&cli.StringFlag{
						Name:  "on-heartbeat-failure",
						Usage: "Action to take on a heartbeat failure. One of [exit,none].",
						Value: "none",
					},
					&cli.DurationFlag{
						Name:  "heartbeat-timeout",
						Usage: "Duration to wait for a heartbeat before taking the heartbeat failure action.",
						Value: time.Minute,
					},
				},
				Action: agentCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func procArgs(ctx *cli.Context) (subprocess.Args, error) {
	args := subprocess.Args{
		Command: ctx.Args().Slice(),
		Dir:     ctx.String("dir"),
		Timeout: ctx.Duration("timeout"),
		Shell:   ctx.String("shell"),
		Logger:  logger.Sugar().Named("subprocess"),
	}
	if len(args.Command) == 0 {
		return args, errors.New("no command given")
	}
	if ctx.IsSet("env") {
		args.Env = map[string]string{}
		for _, kv := range ctx.StringSlice("env") {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return args, fmt.Errorf("env %q is not K=V", kv)
			}
			args.Env[k] = v
		}
	}
	sig := unix.SignalNum(ctx.String("kill-signal"))
	if sig == 0 {
		return args, fmt.Errorf("unknown signal %q", ctx.String("kill-signal"))
	}
	args.KillSignal = sig
	return args, nil
}

func procRunner(ctx *cli.Context) (runner.Runner, error) {
	addr := ctx.String("remote")
	if addr == "" {
		return &runner.Local{Log: logger.Sugar()}, nil
	}
	client, err := agent.NewClient(logger.Sugar(), addr)
	if err != nil {
		return nil, fmt.Errorf("building agent client: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(ctx.Context, 10*time.Second)
	defer cancel()
	if err := client.WaitForServer(waitCtx); err != nil {
		return nil, fmt.Errorf("waiting for agent at %s: %w", addr, err)
	}
	return client, nil
}

// exitFor turns a result into the exit status of this command, using 128+n for a signal like shells do.
func exitFor(res subprocess.Result) error {
	switch res.Kind {
	case subprocess.ResultExited:
		if res.Code == 0 {
			return nil
		}
		return cli.Exit("", res.Code)
	case subprocess.ResultSignaled:
		return cli.Exit(fmt.Sprintf("terminated by %s", res.Signal), 128+int(unix.SignalNum(res.Signal)))
	default:
		return cli.Exit("unknown exit status", 1)
	}
}

// forwardSignals sends SIGINT and SIGTERM received by this command to proc until the returned func is called.
func forwardSignals(ctx context.Context, proc runner.Process) func() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if err := proc.Signal(ctx, sig.(syscall.Signal)); err != nil {
					logger.Sugar().Debugf("error forwarding %s: %s", sig, err)
				}
			}
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func start(ctx *cli.Context, args subprocess.Args) (subprocess.Result, error) {
	r, err := procRunner(ctx)
	if err != nil {
		return subprocess.Result{}, err
	}
	proc, err := r.Start(ctx.Context, args)
	if err != nil {
		return subprocess.Result{}, err
	}
	stop := forwardSignals(ctx.Context, proc)
	defer stop()
	return proc.Wait(ctx.Context)
}

func runCmd(ctx *cli.Context) error {
	args, err := procArgs(ctx)
	if err != nil {
		return err
	}
	args.Stdin = subprocess.Inherit()
	args.Stdout = subprocess.Inherit()
	args.Stderr = subprocess.Inherit()
	res, err := start(ctx, args)
	if err != nil {
		return err
	}
	return exitFor(res)
}

func outputCmd(ctx *cli.Context) error {
	args, err := procArgs(ctx)
	if err != nil {
		return err
	}
	r, err := procRunner(ctx)
	if err != nil {
		return err
	}
	out, res, err := runner.Output(ctx.Context, r, args, sink.WithMaxSize(ctx.Int("max-size")))
	if err != nil {
		return err
	}
	fmt.Print(out)
	return exitFor(res)
}

func linesCmd(ctx *cli.Context) error {
	args, err := procArgs(ctx)
	if err != nil {
		return err
	}
	enc, err := htmlindex.Get(ctx.String("encoding"))
	if err != nil {
		return fmt.Errorf("looking up encoding: %w", err)
	}
	opts := []sink.LineOption{sink.WithSeparator(ctx.String("separator")), sink.WithEncoding(enc)}

	var mut sync.Mutex
	printer := func(prefix string) func(string) error {
		return func(line string) error {
			mut.Lock()
			defer mut.Unlock()
			_, err := fmt.Printf("%s | %s\n", prefix, line)
			return err
		}
	}
	args.Stdout = subprocess.Writer(sink.NewLineCallback(printer("stdout"), nil, opts...))
	args.Stderr = subprocess.Writer(sink.NewLineCallback(printer("stderr"), nil, opts...))

	res, err := start(ctx, args)
	if err != nil {
		return err
	}
	return exitFor(res)
}

func agentCmd(ctx *cli.Context) error {
	var heartbeatFailureHandler func()
	switch onHeartbeatFailure := ctx.String("on-heartbeat-failure"); onHeartbeatFailure {
	case "exit":
		heartbeatFailureHandler = agent.HeartbeatFailureExit
	case "none":
		// nothing
	default:
		return fmt.Errorf("unsupported on-heartbeat-failure %q", onHeartbeatFailure)
	}

	a, err := agent.New(
		agent.WithLogger(logger),
		agent.WithListenAddr(ctx.String("listen-addr")),
		agent.WithMaxOutputSize(ctx.Int("max-output-size")),
		agent.WithHeartbeatTimeout(ctx.Duration("heartbeat-timeout")),
		agent.WithHeartbeatFailureHandler(heartbeatFailureHandler),
	)
	if err != nil {
		return fmt.Errorf("building agent: %w", err)
	}

	return a.Run()
}
