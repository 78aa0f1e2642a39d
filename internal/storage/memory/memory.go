package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/slok/xferd/internal/log"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

// RepositoryConfig is the configuration for the memory repository.
type RepositoryConfig struct {
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.Memory"})
	return nil
}

// Repository is an in-memory implementation of storage.Repository.
type Repository struct {
	jobs     map[string]model.Job
	profiles map[string]model.Profile
	uploads  map[string]model.UploadSession
	index    map[string]map[string]indexedObject
	mu       sync.RWMutex
	logger   log.Logger
}

type indexedObject struct {
	entry     model.ObjectIndexEntry
	indexedAt time.Time
}

var _ storage.Repository = &Repository{}

// NewRepository creates a new memory repository.
func NewRepository(cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Repository{
		jobs:     make(map[string]model.Job),
		profiles: make(map[string]model.Profile),
		uploads:  make(map[string]model.UploadSession),
		index:    make(map[string]map[string]indexedObject),
		logger:   cfg.Logger,
	}, nil
}

// CreateJob creates a new job in the repository.
func (r *Repository) CreateJob(ctx context.Context, j model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[j.ID]; ok {
		return fmt.Errorf("job with id %s: %w", j.ID, model.ErrAlreadyExists)
	}

	r.jobs[j.ID] = copyJob(j)
	r.logger.Debugf("Created job in repository: %s", j.ID)

	return nil
}

// GetJob retrieves a job by ID.
func (r *Repository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	jc := copyJob(j)
	return &jc, nil
}

// ListJobs returns the jobs, newest first.
func (r *Repository) ListJobs(ctx context.Context, opts storage.ListJobsOpts) ([]model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]model.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, copyJob(j))
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID > jobs[j].ID })

	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}

	return jobs, nil
}

// ListJobIDsByStatus returns the IDs of the jobs with the status in creation order.
func (r *Repository) ListJobIDsByStatus(ctx context.Context, status model.JobStatus) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := []string{}
	for id, j := range r.jobs {
		if j.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// UpdateJobStatus updates the status of a job.
func (r *Repository) UpdateJobStatus(ctx context.Context, id string, u model.JobStatusUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}

	j.Status = u.Status
	if u.StartedAt != nil {
		t := *u.StartedAt
		j.StartedAt = &t
	}
	if u.FinishedAt != nil {
		t := *u.FinishedAt
		j.FinishedAt = &t
	}
	if u.Progress != nil {
		p := u.Progress.Clone()
		j.Progress = &p
	}
	j.Error = u.Error
	j.ErrorCode = u.ErrorCode
	r.jobs[id] = j

	return nil
}

// UpdateJobProgress replaces the progress of a job.
func (r *Repository) UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	pc := p.Clone()
	j.Progress = &pc
	r.jobs[id] = j

	return nil
}

// JobExists returns true if the job exists.
func (r *Repository) JobExists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.jobs[id]
	return ok, nil
}

// DeleteFinishedJobsBefore deletes terminal jobs finished before the cutoff, oldest first.
func (r *Repository) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit = storage.DeleteLimit(limit)
	finished := r.finishedBefore(cutoff)
	if len(finished) > limit {
		finished = finished[:limit]
	}

	ids := make([]string, 0, len(finished))
	for _, j := range finished {
		delete(r.jobs, j.ID)
		ids = append(ids, j.ID)
	}

	return ids, nil
}

// ListFinishedJobIDsBefore returns terminal jobs finished before the cutoff, oldest first.
func (r *Repository) ListFinishedJobIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	finished := r.finishedBefore(cutoff)
	ids := make([]string, 0, len(finished))
	for _, j := range finished {
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func (r *Repository) finishedBefore(cutoff time.Time) []model.Job {
	jobs := []model.Job{}
	for _, j := range r.jobs {
		if !j.Status.IsTerminal() || j.FinishedAt == nil || !j.FinishedAt.Before(cutoff) {
			continue
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].FinishedAt.Equal(*jobs[k].FinishedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].FinishedAt.Before(*jobs[k].FinishedAt)
	})
	return jobs
}

// RequestJobCancel marks a job as cancel requested.
func (r *Repository) RequestJobCancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	j.CancelRequested = true
	r.jobs[id] = j

	return nil
}

// ListCancelRequestedJobIDs returns the non terminal jobs with a cancel request.
func (r *Repository) ListCancelRequestedJobIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := []string{}
	for id, j := range r.jobs {
		if j.CancelRequested && !j.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	return ids, nil
}

// CreateProfile creates a new profile.
func (r *Repository) CreateProfile(ctx context.Context, p model.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[p.ID]; ok {
		return fmt.Errorf("profile with id %s: %w", p.ID, model.ErrAlreadyExists)
	}
	for _, existing := range r.profiles {
		if existing.Name == p.Name {
			return fmt.Errorf("profile with name %s: %w", p.Name, model.ErrAlreadyExists)
		}
	}

	r.profiles[p.ID] = copyProfile(p)
	return nil
}

// GetProfile retrieves a profile by ID.
func (r *Repository) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, model.ErrNotFound)
	}
	pc := copyProfile(p)
	return &pc, nil
}

// GetProfileByName retrieves a profile by name.
func (r *Repository) GetProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.profiles {
		if p.Name == name {
			pc := copyProfile(p)
			return &pc, nil
		}
	}
	return nil, fmt.Errorf("profile with name %s: %w", name, model.ErrNotFound)
}

// ListProfiles returns all the profiles sorted by name.
func (r *Repository) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ps := make([]model.Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		ps = append(ps, copyProfile(p))
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].Name < ps[j].Name })

	return ps, nil
}

// DeleteProfile deletes a profile.
func (r *Repository) DeleteProfile(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.profiles[id]; !ok {
		return fmt.Errorf("profile %s: %w", id, model.ErrNotFound)
	}
	delete(r.profiles, id)

	return nil
}

// CreateUploadSession creates a new upload session.
func (r *Repository) CreateUploadSession(ctx context.Context, u model.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.uploads[u.ID]; ok {
		return fmt.Errorf("upload session with id %s: %w", u.ID, model.ErrAlreadyExists)
	}
	r.uploads[u.ID] = u

	return nil
}

// GetUploadSession retrieves an upload session of a profile.
func (r *Repository) GetUploadSession(ctx context.Context, profileID, id string) (*model.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.uploads[id]
	if !ok || u.ProfileID != profileID {
		return nil, fmt.Errorf("upload session %s: %w", id, model.ErrNotFound)
	}
	return &u, nil
}

// UploadSessionExists returns true if the upload session exists.
func (r *Repository) UploadSessionExists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.uploads[id]
	return ok, nil
}

// ListExpiredUploadSessions returns at most limit sessions expired at now.
func (r *Repository) ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]model.UploadSession, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	us := []model.UploadSession{}
	for _, u := range r.uploads {
		if u.ExpiresAt.Before(now) {
			us = append(us, u)
		}
	}
	sort.Slice(us, func(i, j int) bool { return us[i].ExpiresAt.Before(us[j].ExpiresAt) })
	if limit > 0 && len(us) > limit {
		us = us[:limit]
	}

	return us, nil
}

// DeleteUploadSession deletes an upload session.
func (r *Repository) DeleteUploadSession(ctx context.Context, profileID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.uploads[id]
	if !ok || u.ProfileID != profileID {
		return fmt.Errorf("upload session %s: %w", id, model.ErrNotFound)
	}
	delete(r.uploads, id)

	return nil
}

// ClearObjectIndex removes all the indexed objects of a bucket.
func (r *Repository) ClearObjectIndex(ctx context.Context, profileID, bucket string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.index, indexKey(profileID, bucket))
	return nil
}

// UpsertObjectIndexBatch inserts or replaces indexed objects of a bucket.
func (r *Repository) UpsertObjectIndexBatch(ctx context.Context, profileID, bucket string, entries []model.ObjectIndexEntry, indexedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := indexKey(profileID, bucket)
	objs, ok := r.index[k]
	if !ok {
		objs = make(map[string]indexedObject)
		r.index[k] = objs
	}
	for _, e := range entries {
		objs[e.Key] = indexedObject{entry: e, indexedAt: indexedAt}
	}

	return nil
}

// CountObjectIndex returns the number of indexed objects of a bucket.
func (r *Repository) CountObjectIndex(ctx context.Context, profileID, bucket string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.index[indexKey(profileID, bucket)]), nil
}

func indexKey(profileID, bucket string) string { return profileID + "\x00" + bucket }

func copyJob(j model.Job) model.Job {
	if j.Payload != nil {
		p := make(map[string]any, len(j.Payload))
		for k, v := range j.Payload {
			p[k] = v
		}
		j.Payload = p
	}
	if j.Progress != nil {
		p := j.Progress.Clone()
		j.Progress = &p
	}
	return j
}

func copyProfile(p model.Profile) model.Profile {
	if p.TLS != nil {
		t := *p.TLS
		p.TLS = &t
	}
	return p
}
