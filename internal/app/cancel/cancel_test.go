package cancel_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/app/cancel"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage/storagemock"
)

func TestNewService(t *testing.T) {
	_, err := cancel.NewService(cancel.ServiceConfig{})
	assert.Error(t, err)

	svc, err := cancel.NewService(cancel.ServiceConfig{Repository: &storagemock.MockRepository{}})
	assert.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestServiceRun(t *testing.T) {
	tests := map[string]struct {
		mock     func(m *storagemock.MockRepository)
		expErrIs error
		expErr   bool
	}{
		"A queued job should be marked for cancellation.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, "job-1").Once().Return(&model.Job{ID: "job-1", Status: model.JobStatusQueued}, nil)
				m.On("RequestJobCancel", mock.Anything, "job-1").Once().Return(nil)
			},
		},
		"A running job should be marked for cancellation.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, "job-1").Once().Return(&model.Job{ID: "job-1", Status: model.JobStatusRunning}, nil)
				m.On("RequestJobCancel", mock.Anything, "job-1").Once().Return(nil)
			},
		},
		"A finished job can't be canceled.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, "job-1").Once().Return(&model.Job{ID: "job-1", Status: model.JobStatusSucceeded}, nil)
			},
			expErrIs: model.ErrNotValid,
		},
		"A missing job should fail as not found.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, "job-1").Once().Return(nil, model.ErrNotFound)
			},
			expErrIs: model.ErrNotFound,
		},
		"A store failure should fail.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("GetJob", mock.Anything, "job-1").Once().Return(&model.Job{ID: "job-1", Status: model.JobStatusQueued}, nil)
				m.On("RequestJobCancel", mock.Anything, "job-1").Once().Return(errors.New("something"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			require := require.New(t)

			m := &storagemock.MockRepository{}
			test.mock(m)

			svc, err := cancel.NewService(cancel.ServiceConfig{Repository: m})
			require.NoError(err)

			job, err := svc.Run(context.Background(), cancel.Request{JobID: "job-1"})
			switch {
			case test.expErrIs != nil:
				assert.ErrorIs(err, test.expErrIs)
			case test.expErr:
				assert.Error(err)
			default:
				require.NoError(err)
				assert.True(job.CancelRequested)
			}

			m.AssertExpectations(t)
		})
	}
}
