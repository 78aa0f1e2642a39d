package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
	"github.com/slok/xferd/internal/storage/memory"
)

func jobFixture(id string, status model.JobStatus) model.Job {
	return model.Job{
		ID:        id,
		ProfileID: "p1",
		Type:      model.JobTypeS3DeleteObjects,
		Payload:   map[string]any{"bucket": "b"},
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRepositoryJobs(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		actions func(ctx context.Context, t *testing.T, repo *memory.Repository)
	}{
		"Creating and getting a job should work.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01A", model.JobStatusQueued)))

				got, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				assert.Equal(t, model.JobStatusQueued, got.Status)
				assert.Equal(t, "b", got.Payload["bucket"])

				// Returned jobs are copies.
				got.Payload["bucket"] = "other"
				got2, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				assert.Equal(t, "b", got2.Payload["bucket"])
			},
		},

		"Creating a duplicated job should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01A", model.JobStatusQueued)))
				err := repo.CreateJob(ctx, jobFixture("01A", model.JobStatusQueued))
				assert.ErrorIs(t, err, model.ErrAlreadyExists)
			},
		},

		"Getting a missing job should fail.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				_, err := repo.GetJob(ctx, "missing")
				assert.ErrorIs(t, err, model.ErrNotFound)
			},
		},

		"Listing IDs by status should be in creation order.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01C", model.JobStatusQueued)))
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01A", model.JobStatusQueued)))
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01B", model.JobStatusRunning)))
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01D", model.JobStatusQueued)))

				ids, err := repo.ListJobIDsByStatus(ctx, model.JobStatusQueued)
				require.NoError(t, err)
				assert.Equal(t, []string{"01A", "01C", "01D"}, ids)

				jobs, err := repo.ListJobs(ctx, storage.ListJobsOpts{Limit: 2})
				require.NoError(t, err)
				require.Len(t, jobs, 2)
				assert.Equal(t, "01D", jobs[0].ID)
				assert.Equal(t, "01C", jobs[1].ID)
			},
		},

		"Updating status should keep timestamps and progress when not set.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01A", model.JobStatusQueued)))

				require.NoError(t, repo.UpdateJobStatus(ctx, "01A", model.JobStatusUpdate{
					Status:    model.JobStatusRunning,
					StartedAt: &t0,
					Progress:  &model.JobProgress{ObjectsTotal: model.Int64(4)},
				}))
				finished := t0.Add(time.Minute)
				require.NoError(t, repo.UpdateJobStatus(ctx, "01A", model.JobStatusUpdate{
					Status:     model.JobStatusFailed,
					FinishedAt: &finished,
					Error:      "boom",
					ErrorCode:  model.ErrorCodeUnknown,
				}))

				got, err := repo.GetJob(ctx, "01A")
				require.NoError(t, err)
				assert.Equal(t, model.JobStatusFailed, got.Status)
				assert.Equal(t, t0, *got.StartedAt)
				assert.Equal(t, finished, *got.FinishedAt)
				assert.Equal(t, int64(4), *got.Progress.ObjectsTotal)
				assert.Equal(t, "boom", got.Error)
				assert.Equal(t, model.ErrorCodeUnknown, got.ErrorCode)
			},
		},

		"Deleting finished jobs should only remove terminal old jobs oldest first.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				for i, id := range []string{"01A", "01B", "01C"} {
					require.NoError(t, repo.CreateJob(ctx, jobFixture(id, model.JobStatusQueued)))
					f := t0.Add(time.Duration(3-i) * time.Hour)
					require.NoError(t, repo.UpdateJobStatus(ctx, id, model.JobStatusUpdate{Status: model.JobStatusSucceeded, FinishedAt: &f}))
				}
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01D", model.JobStatusRunning)))

				ids, err := repo.DeleteFinishedJobsBefore(ctx, t0.Add(10*time.Hour), 2)
				require.NoError(t, err)
				assert.Equal(t, []string{"01C", "01B"}, ids)

				exists, err := repo.JobExists(ctx, "01A")
				require.NoError(t, err)
				assert.True(t, exists)
				exists, err = repo.JobExists(ctx, "01C")
				require.NoError(t, err)
				assert.False(t, exists)
			},
		},

		"Cancel requests should be listed for non terminal jobs.": {
			actions: func(ctx context.Context, t *testing.T, repo *memory.Repository) {
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01A", model.JobStatusQueued)))
				require.NoError(t, repo.CreateJob(ctx, jobFixture("01B", model.JobStatusSucceeded)))
				require.NoError(t, repo.RequestJobCancel(ctx, "01A"))
				require.NoError(t, repo.RequestJobCancel(ctx, "01B"))
				assert.ErrorIs(t, repo.RequestJobCancel(ctx, "01Z"), model.ErrNotFound)

				ids, err := repo.ListCancelRequestedJobIDs(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"01A"}, ids)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: log.Noop})
			require.NoError(t, err)
			test.actions(context.Background(), t, repo)
		})
	}
}

func TestRepositoryProfilesAndSessions(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	repo, err := memory.NewRepository(memory.RepositoryConfig{})
	require.NoError(err)

	p := model.Profile{ID: "p1", Name: "prod", Provider: model.ProfileProviderAWS, Region: "eu-west-1"}
	require.NoError(repo.CreateProfile(ctx, p))
	assert.ErrorIs(repo.CreateProfile(ctx, model.Profile{ID: "p2", Name: "prod"}), model.ErrAlreadyExists)

	got, err := repo.GetProfileByName(ctx, "prod")
	require.NoError(err)
	assert.Equal("p1", got.ID)

	require.NoError(repo.CreateUploadSession(ctx, model.UploadSession{ID: "u1", ProfileID: "p1", ExpiresAt: now.Add(-time.Hour)}))
	require.NoError(repo.CreateUploadSession(ctx, model.UploadSession{ID: "u2", ProfileID: "p1", ExpiresAt: now.Add(time.Hour)}))

	expired, err := repo.ListExpiredUploadSessions(ctx, now, 200)
	require.NoError(err)
	require.Len(expired, 1)
	assert.Equal("u1", expired[0].ID)

	_, err = repo.GetUploadSession(ctx, "p2", "u1")
	assert.ErrorIs(err, model.ErrNotFound)
	require.NoError(repo.DeleteUploadSession(ctx, "p1", "u1"))
	exists, err := repo.UploadSessionExists(ctx, "u1")
	require.NoError(err)
	assert.False(exists)

	require.NoError(repo.UpsertObjectIndexBatch(ctx, "p1", "b", []model.ObjectIndexEntry{{Key: "a"}, {Key: "b"}}, now))
	require.NoError(repo.UpsertObjectIndexBatch(ctx, "p1", "b", []model.ObjectIndexEntry{{Key: "b"}, {Key: "c"}}, now))
	n, err := repo.CountObjectIndex(ctx, "p1", "b")
	require.NoError(err)
	assert.Equal(3, n)
	require.NoError(repo.ClearObjectIndex(ctx, "p1", "b"))
	n, err = repo.CountObjectIndex(ctx, "p1", "b")
	require.NoError(err)
	assert.Equal(0, n)
}
