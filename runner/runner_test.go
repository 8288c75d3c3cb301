package runner

import (
	"context"
	"testing"

	"github.com/guseggert/procpipe/sink"
	"github.com/guseggert/procpipe/subprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func TestLocalRunWait(t *testing.T) {
	r := &Local{Log: zap.NewNop().Sugar()}

	cases := []struct {
		name   string
		cmd    []string
		expErr string
	}{
		{name: "success", cmd: []string{"true"}},
		{name: "non-zero exit", cmd: []string{"false"}, expErr: "non-zero exit code 1"},
		{name: "signal", cmd: []string{"sh", "-c", "kill -KILL $$"}, expErr: "terminated by signal SIGKILL"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := RunWait(context.Background(), r, subprocess.Args{Command: c.cmd})
			if c.expErr != "" {
				require.ErrorContains(t, err, c.expErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLocalParallel(t *testing.T) {
	r := &Local{Log: zap.NewNop().Sugar()}
	group, ctx := errgroup.WithContext(context.Background())
	bufs := make([]*sink.Buffer, 5)
	for i := range bufs {
		buf := sink.NewBuffer()
		bufs[i] = buf
		group.Go(func() error {
			_, err := RunWait(ctx, r, subprocess.Args{
				Command: []string{"echo", "hello"},
				Stdout:  subprocess.Writer(buf),
			})
			return err
		})
	}
	require.NoError(t, group.Wait())
	for _, buf := range bufs {
		assert.Equal(t, "hello\n", buf.String())
	}
}

func TestLocalConfigError(t *testing.T) {
	r := &Local{}
	_, err := r.Start(context.Background(), subprocess.Args{})
	assert.ErrorIs(t, err, subprocess.ErrConfiguration)
}

func TestLocalOutput(t *testing.T) {
	r := &Local{Log: zap.NewNop().Sugar()}
	ctx := context.Background()

	out, res, err := Output(ctx, r, subprocess.Args{Command: []string{"sh", "-c", "printf hi; exit 2"}})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, 2, res.Code)

	_, _, err = Output(ctx, r, subprocess.Args{Command: []string{"yes"}}, sink.WithMaxSize(1024))
	require.ErrorIs(t, err, sink.ErrOverflow)

	_, _, err = Output(ctx, r, subprocess.Args{
		Command: []string{"true"},
		Stdout:  subprocess.Ignore(),
	})
	require.ErrorIs(t, err, subprocess.ErrConfiguration)
}
