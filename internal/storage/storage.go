package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/slok/xferd/internal/model"
)

// JobRepository is the persistence of jobs.
type JobRepository interface {
	CreateJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	// ListJobs returns the jobs, newest first, optionally filtered by status.
	ListJobs(ctx context.Context, opts ListJobsOpts) ([]model.Job, error)
	// ListJobIDsByStatus returns the job IDs with the status in creation order.
	ListJobIDsByStatus(ctx context.Context, status model.JobStatus) ([]string, error)
	UpdateJobStatus(ctx context.Context, id string, u model.JobStatusUpdate) error
	// UpdateJobProgress replaces the whole progress of a job.
	UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error
	JobExists(ctx context.Context, id string) (bool, error)
	// DeleteFinishedJobsBefore deletes at most limit terminal jobs finished before
	// the cutoff and returns the deleted IDs.
	DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// ListFinishedJobIDsBefore returns terminal job IDs finished before the cutoff.
	ListFinishedJobIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	RequestJobCancel(ctx context.Context, id string) error
	ListCancelRequestedJobIDs(ctx context.Context) ([]string, error)
}

// ListJobsOpts are the options to list jobs.
type ListJobsOpts struct {
	Status model.JobStatus
	Limit  int
}

// ProfileRepository is the persistence of S3 profiles.
type ProfileRepository interface {
	CreateProfile(ctx context.Context, p model.Profile) error
	GetProfile(ctx context.Context, id string) (*model.Profile, error)
	GetProfileByName(ctx context.Context, name string) (*model.Profile, error)
	ListProfiles(ctx context.Context) ([]model.Profile, error)
	DeleteProfile(ctx context.Context, id string) error
}

// UploadSessionRepository is the persistence of upload sessions.
type UploadSessionRepository interface {
	CreateUploadSession(ctx context.Context, u model.UploadSession) error
	GetUploadSession(ctx context.Context, profileID, id string) (*model.UploadSession, error)
	UploadSessionExists(ctx context.Context, id string) (bool, error)
	ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]model.UploadSession, error)
	DeleteUploadSession(ctx context.Context, profileID, id string) error
}

// ObjectIndexRepository is the persistence of the S3 object index.
type ObjectIndexRepository interface {
	ClearObjectIndex(ctx context.Context, profileID, bucket string) error
	UpsertObjectIndexBatch(ctx context.Context, profileID, bucket string, entries []model.ObjectIndexEntry, indexedAt time.Time) error
	CountObjectIndex(ctx context.Context, profileID, bucket string) (int, error)
}

// Repository is the full engine state persistence.
type Repository interface {
	JobRepository
	ProfileRepository
	UploadSessionRepository
	ObjectIndexRepository
}

const (
	DefaultDeleteLimit = 200
	MaxDeleteLimit     = 1000
)

// DeleteLimit normalizes the batch size of a retention deletion.
func DeleteLimit(limit int) int {
	if limit <= 0 {
		return DefaultDeleteLimit
	}
	return min(limit, MaxDeleteLimit)
}

// GetProfileByNameOrID looks up a profile by name first and then by ID.
func GetProfileByNameOrID(ctx context.Context, repo ProfileRepository, nameOrID string) (*model.Profile, error) {
	p, err := repo.GetProfileByName(ctx, nameOrID)
	if errors.Is(err, model.ErrNotFound) {
		p, err = repo.GetProfile(ctx, nameOrID)
	}
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w: %w", nameOrID, model.ErrProfileNotFound, model.ErrNotFound)
		}
		return nil, fmt.Errorf("could not get profile: %w", err)
	}
	return p, nil
}
