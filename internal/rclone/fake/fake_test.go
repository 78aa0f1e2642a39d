package fake_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/rclone/fake"
)

func TestRunnerScripts(t *testing.T) {
	tests := map[string]struct {
		script    fake.Script
		expStdout string
		expStderr string
		expErr    error
		expStart  bool
	}{
		"A successful script should return its outputs.": {
			script:    fake.Script{Stdout: "out", Stderr: "err"},
			expStdout: "out",
			expStderr: "err",
		},
		"A failing script should return its wait error.": {
			script:    fake.Script{Stderr: "boom", WaitErr: errors.New("exit status 1")},
			expStderr: "boom",
			expErr:    errors.New("exit status 1"),
		},
		"A start error should be returned on start.": {
			script:   fake.Script{StartErr: errors.New("no binary")},
			expStart: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			r, err := fake.NewRunner(fake.RunnerConfig{
				Handler: func(rclone.Invocation) fake.Script { return test.script },
			})
			require.NoError(err)

			p, err := r.Start(context.Background(), rclone.Invocation{JobID: "j1", Args: []string{"copy", "a", "b"}})
			if test.expStart {
				assert.Error(err)
				return
			}
			require.NoError(err)

			out, _ := io.ReadAll(p.Stdout())
			errOut, _ := io.ReadAll(p.Stderr())
			assert.Equal(test.expStdout, string(out))
			assert.Equal(test.expStderr, string(errOut))
			assert.Equal(test.expErr, p.Wait())
			assert.NotZero(p.PID())

			invs := r.Invocations()
			require.Len(invs, 1)
			assert.Equal([]string{"copy", "a", "b"}, invs[0].Args)
		})
	}
}

func TestRunnerBlockingKill(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r, err := fake.NewRunner(fake.RunnerConfig{
		Handler: func(rclone.Invocation) fake.Script { return fake.Script{Stdout: "working", Block: true} },
	})
	require.NoError(err)

	p, err := r.Start(context.Background(), rclone.Invocation{Args: []string{"sync"}})
	require.NoError(err)
	assert.Equal(1, r.Running())

	buf := make([]byte, len("working"))
	_, err = io.ReadFull(p.Stdout(), buf)
	require.NoError(err)
	assert.Equal("working", string(buf))

	require.NoError(p.Kill())
	_, _ = io.ReadAll(p.Stdout())
	_, _ = io.ReadAll(p.Stderr())
	assert.ErrorIs(p.Wait(), fake.ErrKilled)
}

func TestRunnerBlockingContextCancel(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	r, err := fake.NewRunner(fake.RunnerConfig{
		Handler: func(rclone.Invocation) fake.Script { return fake.Script{Block: true} },
	})
	require.NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	p, err := r.Start(ctx, rclone.Invocation{Args: []string{"sync"}})
	require.NoError(err)

	cancel()
	_, _ = io.ReadAll(p.Stdout())
	_, _ = io.ReadAll(p.Stderr())
	assert.ErrorIs(p.Wait(), fake.ErrKilled)
}
