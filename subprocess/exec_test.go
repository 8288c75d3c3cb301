package subprocess

import (
	"context"
	"testing"

	"github.com/guseggert/procpipe/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecOutputHello(t *testing.T) {
	out, res, err := ExecOutput(context.Background(), Args{
		Command: []string{"printf", "hello\n"},
		Logger:  log,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out)
	assert.Equal(t, ResultExited, res.Kind)
	assert.Equal(t, 0, res.Code)
}

func TestExecOutputNonZeroExitIsNotAnError(t *testing.T) {
	out, res, err := ExecOutput(context.Background(), Args{
		Command: []string{"sh", "-c", "printf partial; exit 3"},
		Logger:  log,
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", out)
	assert.Equal(t, 3, res.Code)
}

func TestExecOutputOverflow(t *testing.T) {
	_, _, err := ExecOutput(context.Background(), Args{
		Command: []string{"printf", "0123456789"},
		Logger:  log,
	}, sink.WithMaxSize(4))
	assert.ErrorIs(t, err, sink.ErrOverflow)
}

func TestExecOutputRejectsStdout(t *testing.T) {
	_, _, err := ExecOutput(context.Background(), Args{
		Command: []string{"true"},
		Stdout:  Inherit(),
		Logger:  log,
	})
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestExecOutputSpawnError(t *testing.T) {
	_, _, err := ExecOutput(context.Background(), Args{
		Command: []string{"procpipe-definitely-not-a-command"},
		Logger:  log,
	})
	var spawnErr *SpawnError
	assert.ErrorAs(t, err, &spawnErr)
}

func TestExec(t *testing.T) {
	res, err := Exec(context.Background(), Args{
		Command: []string{"sh", "-c", "exit 7"},
		Logger:  log,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, res.Code)

	// explicit targets are not overridden
	buf := sink.NewBuffer()
	res, err = Exec(context.Background(), Args{
		Command: []string{"echo", "kept"},
		Stdout:  Writer(buf),
		Logger:  log,
	})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "kept\n", buf.String())
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "0", Result{Kind: ResultExited}.String())
	assert.Equal(t, "SIGHUP", Result{Kind: ResultSignaled, Signal: "SIGHUP"}.String())
	assert.Equal(t, "", Result{}.String())
	assert.False(t, Result{}.Success())
}

func TestTargetKinds(t *testing.T) {
	assert.Equal(t, KindAbsent, Target{}.Kind())
	assert.Equal(t, "ignore", Ignore().String())
	assert.Nil(t, Inherit().InputReader())
	assert.Nil(t, Bytes(nil).OutputWriter())
	assert.NotNil(t, Bytes([]byte("x")).InputReader())
}
