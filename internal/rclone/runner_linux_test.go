package rclone_test

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
)

// fakeRclone answers the version check, prints its arguments and then fails or
// hangs with a child in the same process group depending on the last argument.
const fakeRclone = `#!/bin/sh
if [ "$1" = "version" ]; then
	echo "rclone v1.66.0"
	exit 0
fi
echo "$@"
for a in "$@"; do last="$a"; done
if [ "$last" = "fail" ]; then
	echo "boom" >&2
	exit 3
fi
sleep 30 &
echo $! > "$XFERD_CHILD_PID_FILE"
echo started
wait
`

var mtlsProfile = model.Profile{
	Provider:        model.ProfileProviderAWS,
	Region:          "eu-west-1",
	AccessKeyID:     "ak",
	SecretAccessKey: "secret-key-value",
	TLS: &model.TLSConfig{
		Mode:          model.TLSModeMTLS,
		ClientCertPEM: "cert",
		ClientKeyPEM:  "key",
	},
}

func newScriptRunner(t *testing.T) (*rclone.ExecRunner, config.Paths, string) {
	t.Helper()

	dir := t.TempDir()
	bin := filepath.Join(dir, "rclone")
	require.NoError(t, os.WriteFile(bin, []byte(fakeRclone), 0o755))

	pidFile := filepath.Join(dir, "child.pid")
	paths := config.Config{DataDir: filepath.Join(dir, "data")}.Paths()
	runner, err := rclone.NewExecRunner(rclone.ExecRunnerConfig{
		Binary: &rclone.Binary{Path: bin},
		Paths:  paths,
		Env:    map[string]string{"XFERD_CHILD_PID_FILE": pidFile},
	})
	require.NoError(t, err)

	return runner, paths, pidFile
}

func flagValue(line, flag string) string {
	fields := strings.Fields(line)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == flag {
			return fields[i+1]
		}
	}
	return ""
}

// processAlive returns false for missing and zombie processes.
func processAlive(pid int) bool {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	i := bytes.LastIndexByte(data, ')')
	if i < 0 {
		return false
	}
	fields := strings.Fields(string(data[i+1:]))
	return len(fields) > 0 && fields[0] != "Z"
}

func TestExecRunnerCancelKillsProcessGroup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runner, paths, pidFile := newScriptRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, err := runner.Start(ctx, rclone.Invocation{JobID: "job-1", Profile: mtlsProfile, Args: []string{"lsjson", "hang"}})
	require.NoError(err)

	out := bufio.NewReader(proc.Stdout())
	argsLine, err := out.ReadString('\n')
	require.NoError(err)
	started, err := out.ReadString('\n')
	require.NoError(err)
	require.Equal("started\n", started)

	confPath := paths.JobRcloneConfig("job-1")
	assert.FileExists(confPath)
	certPath := flagValue(argsLine, "--client-cert")
	require.NotEmpty(certPath)
	tlsDir := filepath.Dir(certPath)
	assert.DirExists(tlsDir)

	pidData, err := os.ReadFile(pidFile)
	require.NoError(err)
	childPID, err := strconv.Atoi(strings.TrimSpace(string(pidData)))
	require.NoError(err)
	require.True(processAlive(childPID))

	cancel()
	_, _ = io.Copy(io.Discard, out)
	_, _ = io.Copy(io.Discard, proc.Stderr())

	done := make(chan error, 1)
	go func() { done <- proc.Wait() }()
	select {
	case err := <-done:
		assert.Error(err)
	case <-time.After(5 * time.Second):
		t.Fatal("process was not killed")
	}

	assert.NoFileExists(confPath)
	assert.NoDirExists(tlsDir)
	assert.Eventually(func() bool { return !processAlive(childPID) }, 2*time.Second, 20*time.Millisecond)

	// The process is gone, killing it again must not signal anything.
	assert.NoError(proc.Kill())
}

func TestExecRunnerFailedProcess(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	runner, paths, _ := newScriptRunner(t)

	proc, err := runner.Start(context.Background(), rclone.Invocation{JobID: "job-2", Profile: mtlsProfile, Args: []string{"lsjson", "fail"}})
	require.NoError(err)

	stdout, err := io.ReadAll(proc.Stdout())
	require.NoError(err)
	stderr, err := io.ReadAll(proc.Stderr())
	require.NoError(err)
	assert.Equal("boom\n", string(stderr))

	tlsDir := filepath.Dir(flagValue(string(stdout), "--client-cert"))
	assert.DirExists(tlsDir)

	err = proc.Wait()
	var exitErr *exec.ExitError
	require.ErrorAs(err, &exitErr)
	assert.Equal(3, exitErr.ExitCode())

	assert.NoFileExists(paths.JobRcloneConfig("job-2"))
	assert.NoDirExists(tlsDir)

	cmd, err := os.ReadFile(paths.JobCmd("job-2"))
	require.NoError(err)
	assert.Contains(string(cmd), "--config")
	assert.Contains(string(cmd), "lsjson fail")
	assert.NotContains(string(cmd), "secret-key-value")

	assert.NoError(proc.Kill())
}
