package manager

import (
	"context"
	"sync"

	"github.com/slok/xferd/internal/rclone"
)

type jobHandle struct {
	cancel   context.CancelFunc
	proc     rclone.Process
	canceled bool
}

// jobRegistry tracks the jobs owned by the manager, queued in memory or
// running, and the cancel handle and live process of the running ones.
type jobRegistry struct {
	mu      sync.Mutex
	tracked map[string]struct{}
	running map[string]*jobHandle
}

func newJobRegistry() *jobRegistry {
	return &jobRegistry{
		tracked: map[string]struct{}{},
		running: map[string]*jobHandle{},
	}
}

// track returns false if the job was already tracked.
func (r *jobRegistry) track(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tracked[jobID]; ok {
		return false
	}
	r.tracked[jobID] = struct{}{}
	return true
}

func (r *jobRegistry) untrack(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tracked, jobID)
}

func (r *jobRegistry) isTracked(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.tracked[jobID]
	return ok
}

func (r *jobRegistry) start(jobID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running[jobID] = &jobHandle{cancel: cancel}
}

func (r *jobRegistry) finish(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, jobID)
}

func (r *jobRegistry) isRunning(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[jobID]
	return ok
}

// SetProcess satisfies executor.ProcessRegistry. A process started after the
// job was canceled is killed right away.
func (r *jobRegistry) SetProcess(jobID string, p rclone.Process) {
	r.mu.Lock()
	h, ok := r.running[jobID]
	kill := false
	if ok {
		h.proc = p
		kill = h.canceled
	}
	r.mu.Unlock()

	if kill {
		_ = p.Kill()
	}
}

// ClearProcess satisfies executor.ProcessRegistry.
func (r *jobRegistry) ClearProcess(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.running[jobID]; ok {
		h.proc = nil
	}
}

// cancel kills the live process of a running job and cancels its context,
// only the first call of a job does it. Returns false if the job is not running.
func (r *jobRegistry) cancel(jobID string) bool {
	r.mu.Lock()
	h, ok := r.running[jobID]
	var (
		cancel context.CancelFunc
		proc   rclone.Process
	)
	dispatch := ok && !h.canceled
	if dispatch {
		h.canceled = true
		cancel, proc = h.cancel, h.proc
	}
	r.mu.Unlock()

	if !dispatch {
		return ok
	}
	if proc != nil {
		_ = proc.Kill()
	}
	cancel()
	return true
}

// isCanceling returns true if the job is running and its cancellation was
// already dispatched.
func (r *jobRegistry) isCanceling(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.running[jobID]
	return ok && h.canceled
}
