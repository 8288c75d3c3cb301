package main

import (
	"testing"

	"github.com/guseggert/procpipe/subprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestExitFor(t *testing.T) {
	cases := []struct {
		name    string
		res     subprocess.Result
		expCode int
	}{
		{name: "success", res: subprocess.Result{Kind: subprocess.ResultExited}},
		{name: "exit code", res: subprocess.Result{Kind: subprocess.ResultExited, Code: 3}, expCode: 3},
		{name: "signal", res: subprocess.Result{Kind: subprocess.ResultSignaled, Signal: "SIGKILL"}, expCode: 137},
		{name: "unknown", res: subprocess.Result{}, expCode: 1},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			err := exitFor(c.res)
			if c.expCode == 0 {
				require.NoError(t, err)
				return
			}
			var exitErr cli.ExitCoder
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, c.expCode, exitErr.ExitCode())
		})
	}
}
