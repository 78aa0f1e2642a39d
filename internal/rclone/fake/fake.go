package fake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/rclone"
)

// ErrKilled is returned by Wait when the process was killed.
var ErrKilled = errors.New("signal: killed")

// Script is the scripted behavior of a single fake rclone process.
type Script struct {
	Stdout string
	Stderr string
	// WaitErr is returned by Wait.
	WaitErr error
	// StartErr makes Start fail.
	StartErr error
	// Block keeps the process running until it is killed or its context is done.
	Block bool
}

// Handler returns the script for an invocation.
type Handler func(inv rclone.Invocation) Script

// RunnerConfig is the configuration for the fake runner.
type RunnerConfig struct {
	Handler Handler
	Logger  log.Logger
}

func (c *RunnerConfig) defaults() error {
	if c.Handler == nil {
		c.Handler = func(rclone.Invocation) Script { return Script{} }
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "rclone.FakeRunner"})
	return nil
}

// Runner is a fake implementation of the rclone.Runner interface. It doesn't
// start real processes, outputs come from the handler scripts.
type Runner struct {
	handler Handler
	logger  log.Logger

	mu          sync.Mutex
	nextPID     int
	invocations []rclone.Invocation
	running     map[int]*process
}

// NewRunner creates a new fake runner.
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Runner{
		handler: cfg.Handler,
		logger:  cfg.Logger,
		nextPID: 1000,
		running: map[int]*process{},
	}, nil
}

// Start starts a fake process.
func (r *Runner) Start(ctx context.Context, inv rclone.Invocation) (rclone.Process, error) {
	inv.Args = append([]string{}, inv.Args...)

	r.mu.Lock()
	r.invocations = append(r.invocations, inv)
	r.nextPID++
	pid := r.nextPID
	r.mu.Unlock()

	script := r.handler(inv)
	if script.StartErr != nil {
		return nil, script.StartErr
	}

	p := &process{
		pid:    pid,
		killed: make(chan struct{}),
		result: script.WaitErr,
	}

	if !script.Block {
		p.stdout = strings.NewReader(script.Stdout)
		p.stderr = strings.NewReader(script.Stderr)
		r.logger.Debugf("Started fake rclone %d: %v", pid, inv.Args)
		return p, nil
	}

	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	p.stdout, p.stderr = outR, errR

	r.mu.Lock()
	r.running[pid] = p
	r.mu.Unlock()

	go func() {
		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); _, _ = io.WriteString(outW, script.Stdout) }()
		go func() { defer wg.Done(); _, _ = io.WriteString(errW, script.Stderr) }()

		select {
		case <-ctx.Done():
			p.kill()
		case <-p.killed:
		}

		// Unblock writers still waiting for readers.
		_ = outW.Close()
		_ = errW.Close()
		wg.Wait()

		r.mu.Lock()
		delete(r.running, pid)
		r.mu.Unlock()
	}()

	r.logger.Debugf("Started blocking fake rclone %d: %v", pid, inv.Args)
	return p, nil
}

// Invocations returns the invocations received so far.
func (r *Runner) Invocations() []rclone.Invocation {
	r.mu.Lock()
	defer r.mu.Unlock()

	invs := make([]rclone.Invocation, 0, len(r.invocations))
	for _, inv := range r.invocations {
		inv.Args = append([]string{}, inv.Args...)
		invs = append(invs, inv)
	}
	return invs
}

// Running returns the number of blocking processes not killed yet.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

type process struct {
	pid    int
	stdout io.Reader
	stderr io.Reader
	result error

	once   sync.Once
	killed chan struct{}
}

func (p *process) Stdout() io.Reader { return p.stdout }
func (p *process) Stderr() io.Reader { return p.stderr }
func (p *process) PID() int          { return p.pid }

func (p *process) Kill() error {
	p.kill()
	return nil
}

func (p *process) kill() {
	p.once.Do(func() { close(p.killed) })
}

func (p *process) Wait() error {
	select {
	case <-p.killed:
		return ErrKilled
	default:
		return p.result
	}
}
