package rclone

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/utils/env"
)

// Invocation is a single rclone execution. Args don't include the config and TLS
// flags, those are derived from the profile.
type Invocation struct {
	JobID   string
	Profile model.Profile
	Args    []string
}

// Process is a started rclone process.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	PID() int
	// Kill kills the process and all its children.
	Kill() error
	// Wait waits for the process to exit and releases its resources. Stdout and
	// stderr must be fully read before calling it.
	Wait() error
}

// Runner starts rclone processes.
type Runner interface {
	Start(ctx context.Context, inv Invocation) (Process, error)
}

// PathResolver returns the per job file locations.
type PathResolver interface {
	JobRcloneConfig(jobID string) string
	JobCmd(jobID string) string
}

// ExecRunnerConfig is the configuration of the exec runner.
type ExecRunnerConfig struct {
	Binary *Binary
	Paths  PathResolver
	// Env is added to the inherited environment of the processes.
	Env map[string]string
	// WaitDelay bounds the wait for the output pipes after the process exits.
	WaitDelay time.Duration
	Logger    log.Logger
}

func (c *ExecRunnerConfig) defaults() error {
	if c.Binary == nil {
		c.Binary = &Binary{}
	}
	if c.Paths == nil {
		return fmt.Errorf("paths are required")
	}
	if c.WaitDelay <= 0 {
		c.WaitDelay = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "rclone.ExecRunner"})
	return nil
}

// ExecRunner runs rclone as an OS subprocess in its own process group.
type ExecRunner struct {
	binary    *Binary
	paths     PathResolver
	env       map[string]string
	waitDelay time.Duration
	logger    log.Logger
}

// NewExecRunner returns a new exec runner.
func NewExecRunner(cfg ExecRunnerConfig) (*ExecRunner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &ExecRunner{
		binary:    cfg.Binary,
		paths:     cfg.Paths,
		env:       env.Merge(nil, cfg.Env),
		waitDelay: cfg.WaitDelay,
		logger:    cfg.Logger,
	}, nil
}

// Start starts the invocation. Canceling the context kills the process group.
func (r *ExecRunner) Start(ctx context.Context, inv Invocation) (Process, error) {
	path, _, err := r.binary.EnsureCompatible(ctx)
	if err != nil {
		return nil, TransferEngineError(err)
	}

	configPath, rmConfig, err := r.writeConfig(inv)
	if err != nil {
		return nil, err
	}

	tlsFlags, rmTLS, err := TLSFlags(inv.Profile)
	if err != nil {
		rmConfig()
		return nil, fmt.Errorf("could not prepare tls flags: %w", err)
	}
	cleanup := func() {
		rmConfig()
		rmTLS()
	}

	args := append([]string{"--config", configPath}, tlsFlags...)
	args = append(args, inv.Args...)

	if inv.JobID != "" {
		r.recordCommand(inv.JobID, path, args)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	isolate(cmd)
	cmd.Env = env.Environ(os.Environ(), r.env)
	cmd.WaitDelay = r.waitDelay
	cmd.Cancel = func() error { return killGroup(cmd.Process.Pid) }

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("could not create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("could not create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		return nil, fmt.Errorf("could not start rclone: %w", err)
	}

	r.logger.Debugf("Started rclone pid %d: %s", cmd.Process.Pid, firstArg(inv.Args))

	return &execProcess{
		cmd:     cmd,
		stdout:  stdout,
		stderr:  stderr,
		cleanup: cleanup,
	}, nil
}

func (r *ExecRunner) writeConfig(inv Invocation) (path string, cleanup func(), err error) {
	if inv.JobID != "" {
		path = r.paths.JobRcloneConfig(inv.JobID)
	} else {
		f, err := os.CreateTemp("", "xferd-*.rclone.conf")
		if err != nil {
			return "", nil, fmt.Errorf("could not create rclone config: %w", err)
		}
		path = f.Name()
		_ = f.Close()
	}

	if err := WriteConfigFile(path, inv.Profile); err != nil {
		_ = os.Remove(path)
		return "", nil, err
	}

	return path, func() { _ = os.Remove(path) }, nil
}

// recordCommand stores the last command line of the job, secrets live in the
// config file so the arguments are safe to keep.
func (r *ExecRunner) recordCommand(jobID, path string, args []string) {
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, filepath.Base(path))
	for _, a := range args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		quoted = append(quoted, a)
	}

	cmdPath := r.paths.JobCmd(jobID)
	if err := os.MkdirAll(filepath.Dir(cmdPath), 0o700); err != nil {
		r.logger.Warningf("could not record command: %s", err)
		return
	}
	if err := os.WriteFile(cmdPath, []byte(strings.Join(quoted, " ")+"\n"), 0o600); err != nil {
		r.logger.Warningf("could not record command: %s", err)
	}
}

func firstArg(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return ""
}

type execProcess struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  io.Reader
	cleanup func()
	once    sync.Once

	mu     sync.Mutex
	exited bool
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }
func (p *execProcess) PID() int          { return p.cmd.Process.Pid }

// Kill is a no-op once Wait returned, the pid may belong to another process.
func (p *execProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return nil
	}
	return killGroup(p.cmd.Process.Pid)
}

func (p *execProcess) Wait() error {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.exited = true
	p.mu.Unlock()

	p.once.Do(p.cleanup)
	return err
}
