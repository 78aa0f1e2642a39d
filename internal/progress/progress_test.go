package progress_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/logparse"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/progress"
	"github.com/slok/xferd/internal/storage/memory"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) progresses() []model.JobProgress {
	r.mu.Lock()
	defer r.mu.Unlock()

	ps := []model.JobProgress{}
	for _, e := range r.events {
		if pe, ok := e.Payload.(model.JobProgressEvent); ok && pe.Progress != nil {
			ps = append(ps, *pe.Progress)
		}
	}
	return ps
}

func newTracker(t *testing.T, p *model.JobProgress) (*progress.Tracker, *memory.Repository, *recorder) {
	t.Helper()

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(t, err)
	err = repo.CreateJob(context.Background(), model.Job{
		ID:        "job-1",
		ProfileID: "p1",
		Type:      model.JobTypeTransferSyncLocalToS3,
		Status:    model.JobStatusRunning,
		Progress:  p,
	})
	require.NoError(t, err)

	rec := &recorder{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tr, err := progressTracker(repo, rec, func() time.Time { return now })
	require.NoError(t, err)

	return tr, repo, rec
}

func progressTracker(repo *memory.Repository, pub events.Publisher, now func() time.Time) (*progress.Tracker, error) {
	return progress.NewTracker(progress.TrackerConfig{
		JobID:     "job-1",
		Store:     repo,
		Publisher: pub,
		TimeNow:   now,
	})
}

func TestTrackerMonotonicDone(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	tr, repo, rec := newTracker(t, nil)

	// The third update simulates a retried attempt restarting the counters.
	updates := []logparse.Update{
		{ObjectsDone: 1, BytesDone: 100},
		{ObjectsDone: 3, BytesDone: 300},
		{ObjectsDone: 0, BytesDone: 10},
		{ObjectsDone: 4, BytesDone: 400},
	}
	for _, u := range updates {
		tr.Observe(u)
	}

	ps := rec.progresses()
	require.Len(ps, 4)
	var lastObjects, lastBytes int64
	for _, p := range ps {
		assert.GreaterOrEqual(*p.ObjectsDone, lastObjects)
		assert.GreaterOrEqual(*p.BytesDone, lastBytes)
		lastObjects, lastBytes = *p.ObjectsDone, *p.BytesDone
	}
	assert.Equal(int64(4), lastObjects)
	assert.Equal(int64(400), lastBytes)

	j, err := repo.GetJob(context.Background(), "job-1")
	require.NoError(err)
	assert.Equal(int64(4), *j.Progress.ObjectsDone)
}

func TestTrackerTotals(t *testing.T) {
	tests := map[string]struct {
		storeProgress *model.JobProgress
		preflight     func(tr *progress.Tracker)
		updates       []logparse.Update
		expProgress   model.JobProgress
	}{
		"Preflight totals should be kept when stats don't have totals.": {
			preflight: func(tr *progress.Tracker) { tr.SetTotals(model.Int64(10), model.Int64(1000)) },
			updates:   []logparse.Update{{ObjectsDone: 2, BytesDone: 200}},
			expProgress: model.JobProgress{
				ObjectsDone:  model.Int64(2),
				ObjectsTotal: model.Int64(10),
				BytesDone:    model.Int64(200),
				BytesTotal:   model.Int64(1000),
			},
		},
		"Positive stats totals should replace the preflight ones.": {
			preflight: func(tr *progress.Tracker) { tr.SetTotals(model.Int64(10), model.Int64(1000)) },
			updates:   []logparse.Update{{ObjectsDone: 2, ObjectsTotal: model.Int64(12), BytesDone: 200, BytesTotal: model.Int64(1200)}},
			expProgress: model.JobProgress{
				ObjectsDone:  model.Int64(2),
				ObjectsTotal: model.Int64(12),
				BytesDone:    model.Int64(200),
				BytesTotal:   model.Int64(1200),
			},
		},
		"A retried attempt should not shrink the stats totals.": {
			updates: []logparse.Update{
				{ObjectsDone: 60, ObjectsTotal: model.Int64(100), BytesDone: 600, BytesTotal: model.Int64(1000)},
				{ObjectsDone: 5, ObjectsTotal: model.Int64(40), BytesDone: 50, BytesTotal: model.Int64(400)},
			},
			expProgress: model.JobProgress{
				ObjectsDone:  model.Int64(60),
				ObjectsTotal: model.Int64(100),
				BytesDone:    model.Int64(600),
				BytesTotal:   model.Int64(1000),
			},
		},
		"The first stats totals should replace larger preflight ones and then only grow.": {
			preflight: func(tr *progress.Tracker) { tr.SetTotals(model.Int64(10), model.Int64(1000)) },
			updates: []logparse.Update{
				{ObjectsDone: 2, ObjectsTotal: model.Int64(8), BytesDone: 200, BytesTotal: model.Int64(800)},
				{ObjectsDone: 1, ObjectsTotal: model.Int64(3), BytesDone: 100, BytesTotal: model.Int64(300)},
			},
			expProgress: model.JobProgress{
				ObjectsDone:  model.Int64(2),
				ObjectsTotal: model.Int64(8),
				BytesDone:    model.Int64(200),
				BytesTotal:   model.Int64(800),
			},
		},
		"Totals should be loaded from the store when unknown.": {
			storeProgress: &model.JobProgress{ObjectsTotal: model.Int64(7), BytesTotal: model.Int64(70)},
			updates:       []logparse.Update{{ObjectsDone: 1, BytesDone: 10}},
			expProgress: model.JobProgress{
				ObjectsDone:  model.Int64(1),
				ObjectsTotal: model.Int64(7),
				BytesDone:    model.Int64(10),
				BytesTotal:   model.Int64(70),
			},
		},
		"Speed and ETA should be kept when present.": {
			preflight: func(tr *progress.Tracker) { tr.SetObjectsTotal(5) },
			updates:   []logparse.Update{{ObjectsDone: 1, BytesDone: 10, SpeedBps: model.Int64(5), EtaSeconds: model.Int(9)}},
			expProgress: model.JobProgress{
				ObjectsDone:  model.Int64(1),
				ObjectsTotal: model.Int64(5),
				BytesDone:    model.Int64(10),
				SpeedBps:     model.Int64(5),
				EtaSeconds:   model.Int(9),
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			tr, _, _ := newTracker(t, test.storeProgress)
			if test.preflight != nil {
				test.preflight(tr)
			}

			var got model.JobProgress
			for _, u := range test.updates {
				got = tr.Observe(u)
			}
			assert.Equal(test.expProgress, got)
		})
	}
}

type countingStore struct {
	progress.Store
	mu   sync.Mutex
	gets int
}

func (s *countingStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.Store.GetJob(ctx, id)
}

func TestTrackerLoadsTotalsOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	_, repo, _ := newTracker(t, nil)
	store := &countingStore{Store: repo}
	tr, err := progress.NewTracker(progress.TrackerConfig{JobID: "job-1", Store: store})
	require.NoError(err)

	// Deletes never report a bytes total.
	for i := 1; i <= 5; i++ {
		tr.Observe(logparse.Update{ObjectsDone: int64(i)})
	}

	assert.Equal(1, store.gets)
	assert.Equal(int64(5), *tr.Snapshot().ObjectsDone)
}

func TestTrackerRates(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)
	require.NoError(repo.CreateJob(context.Background(), model.Job{ID: "job-1", ProfileID: "p1", Type: model.JobTypeS3ZipPrefix}))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	tr, err := progressTracker(repo, events.NoopPublisher, func() time.Time { return now })
	require.NoError(err)

	tr.SetTotals(model.Int64(10), model.Int64(1000))
	now = start.Add(10 * time.Second)
	got := tr.SetDone(5, 500)

	assert.Equal(model.Int64(50), got.SpeedBps)
	assert.Equal(model.Int(10), got.EtaSeconds)
	assert.Equal(model.Int64(0), got.ObjectsPerSecond)

	final := progress.Finalize(&got)
	assert.Equal(&model.JobProgress{
		ObjectsDone:  model.Int64(5),
		ObjectsTotal: model.Int64(10),
		BytesDone:    model.Int64(500),
		BytesTotal:   model.Int64(1000),
	}, final)
	assert.Nil(progress.Finalize(nil))
}

func TestTrackerAddObjectsDone(t *testing.T) {
	assert := assert.New(t)

	tr, _, _ := newTracker(t, nil)
	tr.SetObjectsTotal(3)
	tr.AddObjectsDone(1)
	got := tr.AddObjectsDone(2)

	assert.Equal(model.JobProgress{ObjectsDone: model.Int64(3), ObjectsTotal: model.Int64(3)}, got)
}

func TestTrackerRun(t *testing.T) {
	assert := assert.New(t)

	tr, _, rec := newTracker(t, nil)

	updates := make(chan logparse.Update, 3)
	updates <- logparse.Update{ObjectsDone: 1}
	updates <- logparse.Update{ObjectsDone: 2}
	close(updates)

	tr.Run(context.Background(), updates)

	assert.Len(rec.progresses(), 2)
	assert.Equal(model.Int64(2), tr.Snapshot().ObjectsDone)
}

func TestJobLogTruncation(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "logs", "jobs", "job-1.log")
	l, err := progress.OpenJobLog(path, 1024)
	require.NoError(err)

	line := strings.Repeat("a", 1023) + "\n"
	for i := 0; i < 300; i++ {
		_, err := l.Write([]byte(line))
		require.NoError(err)
	}
	l.Linef("info", "the end %d", 1)
	require.NoError(l.Close())

	data, err := os.ReadFile(path)
	require.NoError(err)
	assert.LessOrEqual(len(data), 1024+progress.JobLogTruncateMargin)
	assert.True(strings.HasSuffix(string(data), "[info] the end 1\n"))

	info, err := os.Stat(path)
	require.NoError(err)
	assert.Equal(os.FileMode(0o600), info.Mode().Perm())

	_, err = l.Write([]byte("x"))
	assert.ErrorIs(err, progress.ErrJobLogClosed)
	assert.NoError(l.Close())
}

func TestJobLogTruncationKeepsTail(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	path := filepath.Join(t.TempDir(), "job.log")
	l, err := progress.OpenJobLog(path, 10)
	require.NoError(err)

	_, err = l.Write([]byte(strings.Repeat("x", progress.JobLogTruncateMargin) + "0123456789"))
	require.NoError(err)
	_, err = l.Write([]byte("AB"))
	require.NoError(err)
	require.NoError(l.Close())

	data, err := os.ReadFile(path)
	require.NoError(err)
	assert.Equal("23456789AB", string(data))
}
