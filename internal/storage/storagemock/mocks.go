package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage"
)

var _ storage.Repository = &MockRepository{}

// MockRepository is a mock of storage.Repository.
type MockRepository struct {
	mock.Mock
}

func arg[T any](ret mock.Arguments, i int) T {
	var zero T
	v := ret.Get(i)
	if v == nil {
		return zero
	}
	return v.(T)
}

func (m *MockRepository) CreateJob(ctx context.Context, j model.Job) error {
	return m.Called(ctx, j).Error(0)
}

func (m *MockRepository) GetJob(ctx context.Context, id string) (*model.Job, error) {
	ret := m.Called(ctx, id)
	return arg[*model.Job](ret, 0), ret.Error(1)
}

func (m *MockRepository) ListJobs(ctx context.Context, opts storage.ListJobsOpts) ([]model.Job, error) {
	ret := m.Called(ctx, opts)
	return arg[[]model.Job](ret, 0), ret.Error(1)
}

func (m *MockRepository) ListJobIDsByStatus(ctx context.Context, status model.JobStatus) ([]string, error) {
	ret := m.Called(ctx, status)
	return arg[[]string](ret, 0), ret.Error(1)
}

func (m *MockRepository) UpdateJobStatus(ctx context.Context, id string, u model.JobStatusUpdate) error {
	return m.Called(ctx, id, u).Error(0)
}

func (m *MockRepository) UpdateJobProgress(ctx context.Context, id string, p model.JobProgress) error {
	return m.Called(ctx, id, p).Error(0)
}

func (m *MockRepository) JobExists(ctx context.Context, id string) (bool, error) {
	ret := m.Called(ctx, id)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockRepository) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ret := m.Called(ctx, cutoff, limit)
	return arg[[]string](ret, 0), ret.Error(1)
}

func (m *MockRepository) ListFinishedJobIDsBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	ret := m.Called(ctx, cutoff)
	return arg[[]string](ret, 0), ret.Error(1)
}

func (m *MockRepository) RequestJobCancel(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) ListCancelRequestedJobIDs(ctx context.Context) ([]string, error) {
	ret := m.Called(ctx)
	return arg[[]string](ret, 0), ret.Error(1)
}

func (m *MockRepository) CreateProfile(ctx context.Context, p model.Profile) error {
	return m.Called(ctx, p).Error(0)
}

func (m *MockRepository) GetProfile(ctx context.Context, id string) (*model.Profile, error) {
	ret := m.Called(ctx, id)
	return arg[*model.Profile](ret, 0), ret.Error(1)
}

func (m *MockRepository) GetProfileByName(ctx context.Context, name string) (*model.Profile, error) {
	ret := m.Called(ctx, name)
	return arg[*model.Profile](ret, 0), ret.Error(1)
}

func (m *MockRepository) ListProfiles(ctx context.Context) ([]model.Profile, error) {
	ret := m.Called(ctx)
	return arg[[]model.Profile](ret, 0), ret.Error(1)
}

func (m *MockRepository) DeleteProfile(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockRepository) CreateUploadSession(ctx context.Context, u model.UploadSession) error {
	return m.Called(ctx, u).Error(0)
}

func (m *MockRepository) GetUploadSession(ctx context.Context, profileID, id string) (*model.UploadSession, error) {
	ret := m.Called(ctx, profileID, id)
	return arg[*model.UploadSession](ret, 0), ret.Error(1)
}

func (m *MockRepository) UploadSessionExists(ctx context.Context, id string) (bool, error) {
	ret := m.Called(ctx, id)
	return ret.Bool(0), ret.Error(1)
}

func (m *MockRepository) ListExpiredUploadSessions(ctx context.Context, now time.Time, limit int) ([]model.UploadSession, error) {
	ret := m.Called(ctx, now, limit)
	return arg[[]model.UploadSession](ret, 0), ret.Error(1)
}

func (m *MockRepository) DeleteUploadSession(ctx context.Context, profileID, id string) error {
	return m.Called(ctx, profileID, id).Error(0)
}

func (m *MockRepository) ClearObjectIndex(ctx context.Context, profileID, bucket string) error {
	return m.Called(ctx, profileID, bucket).Error(0)
}

func (m *MockRepository) UpsertObjectIndexBatch(ctx context.Context, profileID, bucket string, entries []model.ObjectIndexEntry, indexedAt time.Time) error {
	return m.Called(ctx, profileID, bucket, entries, indexedAt).Error(0)
}

func (m *MockRepository) CountObjectIndex(ctx context.Context, profileID, bucket string) (int, error) {
	ret := m.Called(ctx, profileID, bucket)
	return ret.Int(0), ret.Error(1)
}
