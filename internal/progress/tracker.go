package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/logparse"
	"github.com/slok/xferd/internal/model"
)

// Store is the job progress persistence used by the tracker.
type Store interface {
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error
}

// DefaultStoreTimeout bounds every store call of the tracker.
const DefaultStoreTimeout = 2 * time.Second

// TrackerConfig is the configuration of a job progress tracker.
type TrackerConfig struct {
	JobID        string
	Store        Store
	Publisher    events.Publisher
	StoreTimeout time.Duration
	TimeNow      func() time.Time
	Logger       log.Logger
}

func (c *TrackerConfig) defaults() error {
	if c.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Publisher == nil {
		c.Publisher = events.NoopPublisher
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.TimeNow == nil {
		c.TimeNow = time.Now
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "progress.Tracker", "job-id": c.JobID})
	return nil
}

// Tracker owns the progress of a single job execution. Done counters never go
// back, even when a retried attempt restarts the rclone counters.
type Tracker struct {
	jobID   string
	store   Store
	pub     events.Publisher
	timeout time.Duration
	timeNow func() time.Time
	logger  log.Logger

	mu           sync.Mutex
	startedAt    time.Time
	objectsTotal *int64
	bytesTotal   *int64
	objectsDone  int64
	bytesDone    int64
	hasObjects   bool
	hasBytes     bool
	totalsLoaded bool
	// Set when the total comes from rclone stats, from then on it only grows.
	objectsTotalStats bool
	bytesTotalStats   bool
}

// NewTracker returns a new tracker, the elapsed time for the rates starts now.
func NewTracker(cfg TrackerConfig) (*Tracker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Tracker{
		jobID:     cfg.JobID,
		store:     cfg.Store,
		pub:       cfg.Publisher,
		timeout:   cfg.StoreTimeout,
		timeNow:   cfg.TimeNow,
		logger:    cfg.Logger,
		startedAt: cfg.TimeNow(),
	}, nil
}

// LoadTotals loads the totals already known by the store.
func (t *Tracker) LoadTotals() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.loadTotalsLocked()
}

func (t *Tracker) loadTotalsLocked() {
	t.totalsLoaded = true

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	j, err := t.store.GetJob(ctx, t.jobID)
	if err != nil || j.Progress == nil {
		return
	}
	if j.Progress.ObjectsTotal != nil && t.objectsTotal == nil {
		t.objectsTotal = model.Int64(*j.Progress.ObjectsTotal)
	}
	if j.Progress.BytesTotal != nil && t.bytesTotal == nil {
		t.bytesTotal = model.Int64(*j.Progress.BytesTotal)
	}
}

// SetTotals sets the known totals, nil values are left as they are. This is
// the only way a known total can shrink. The progress is persisted and published.
func (t *Tracker) SetTotals(objects, bytes *int64) model.JobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	if objects != nil {
		t.objectsTotal = model.Int64(*objects)
		t.objectsTotalStats = false
	}
	if bytes != nil {
		t.bytesTotal = model.Int64(*bytes)
		t.bytesTotalStats = false
	}

	return t.commitLocked(nil, nil)
}

// SetObjectsTotal sets the objects total.
func (t *Tracker) SetObjectsTotal(n int64) model.JobProgress {
	return t.SetTotals(&n, nil)
}

// Observe merges an rclone stats update. Done counters never go back. The
// first positive stats total replaces the preflight one, later ones only grow
// it because a retried attempt reports the remaining objects only.
func (t *Tracker) Observe(u logparse.Update) model.JobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.totalsLoaded && (t.objectsTotal == nil || t.bytesTotal == nil) {
		t.loadTotalsLocked()
	}
	t.objectsTotal, t.objectsTotalStats = mergeTotal(t.objectsTotal, t.objectsTotalStats, u.ObjectsTotal)
	t.bytesTotal, t.bytesTotalStats = mergeTotal(t.bytesTotal, t.bytesTotalStats, u.BytesTotal)

	t.setDoneLocked(u.ObjectsDone, u.BytesDone)

	return t.commitLocked(u.SpeedBps, u.EtaSeconds)
}

// SetDone sets the done counters of processes that are not tracked with rclone stats.
func (t *Tracker) SetDone(objects, bytes int64) model.JobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.setDoneLocked(objects, bytes)
	return t.commitLocked(nil, nil)
}

// AddObjectsDone increments the objects done.
func (t *Tracker) AddObjectsDone(n int64) model.JobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.objectsDone += max(n, 0)
	t.hasObjects = true
	return t.commitLocked(nil, nil)
}

func mergeTotal(known *int64, fromStats bool, observed *int64) (*int64, bool) {
	if observed == nil || *observed <= 0 {
		return known, fromStats
	}
	if known != nil && fromStats && *known >= *observed {
		return known, true
	}
	return model.Int64(*observed), true
}

func (t *Tracker) setDoneLocked(objects, bytes int64) {
	t.objectsDone = max(t.objectsDone, objects)
	t.bytesDone = max(t.bytesDone, bytes)
	t.hasObjects = true
	t.hasBytes = true
}

// Snapshot returns the current progress without persisting it.
func (t *Tracker) Snapshot() model.JobProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(nil, nil)
}

// Run observes the updates until the channel is closed or the context done.
func (t *Tracker) Run(ctx context.Context, updates <-chan logparse.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			t.Observe(u)
		}
	}
}

func (t *Tracker) snapshotLocked(speed *int64, eta *int) model.JobProgress {
	p := model.JobProgress{}
	if t.objectsTotal != nil {
		p.ObjectsTotal = model.Int64(*t.objectsTotal)
	}
	if t.bytesTotal != nil {
		p.BytesTotal = model.Int64(*t.bytesTotal)
	}
	if t.hasObjects {
		p.ObjectsDone = model.Int64(t.objectsDone)
	}
	if t.hasBytes {
		p.BytesDone = model.Int64(t.bytesDone)
	}

	elapsed := t.timeNow().Sub(t.startedAt)
	if elapsed >= time.Second {
		secs := elapsed.Seconds()
		if t.hasObjects && t.objectsDone > 0 {
			p.ObjectsPerSecond = model.Int64(int64(float64(t.objectsDone) / secs))
		}
		if speed == nil && t.bytesDone > 0 {
			speed = model.Int64(int64(float64(t.bytesDone) / secs))
		}
	}

	if speed != nil && *speed > 0 {
		p.SpeedBps = model.Int64(*speed)
		if eta == nil && p.BytesTotal != nil && *p.BytesTotal > t.bytesDone {
			eta = model.Int(int((*p.BytesTotal - t.bytesDone) / *speed))
		}
	}
	if eta != nil && *eta > 0 {
		p.EtaSeconds = model.Int(*eta)
	}

	return p
}

// commitLocked persists and publishes the current progress. It runs with the
// lock held so updates of a job are serialized.
func (t *Tracker) commitLocked(speed *int64, eta *int) model.JobProgress {
	p := t.snapshotLocked(speed, eta)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	if err := t.store.UpdateJobProgress(ctx, t.jobID, p); err != nil {
		t.logger.Warningf("could not persist progress: %s", err)
	}

	published := p.Clone()
	t.pub.Publish(events.Event{
		Type:    model.EventTypeJobProgress,
		JobID:   t.jobID,
		Payload: model.JobProgressEvent{Status: model.JobStatusRunning, Progress: &published},
	})

	return p
}

// Finalize returns the progress to persist on a terminal job, only the stable
// counters are kept.
func Finalize(p *model.JobProgress) *model.JobProgress {
	if p == nil {
		return nil
	}
	f := p.WithoutDerived()
	return &f
}
