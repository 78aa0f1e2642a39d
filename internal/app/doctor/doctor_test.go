package doctor_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/app/doctor"
	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/storage/storagemock"
)

type engine struct {
	version string
	err     error
}

func (e engine) EnsureCompatible(context.Context) (string, string, error) {
	return "/usr/bin/rclone", e.version, e.err
}

type schema uint

func (s schema) SchemaVersion(context.Context) (uint, error) { return uint(s), nil }

func statuses(rs model.CheckResults) map[string]model.CheckStatus {
	m := map[string]model.CheckStatus{}
	for _, r := range rs {
		m[r.ID] = r.Status
	}
	return m
}

func TestServiceRun(t *testing.T) {
	dataDir := t.TempDir()

	tests := map[string]struct {
		cfg         config.Config
		engine      engine
		mock        func(m *storagemock.MockRepository)
		expStatuses map[string]model.CheckStatus
		expErrors   bool
	}{
		"A healthy environment should pass.": {
			cfg:    config.Config{DataDir: dataDir, AllowedLocalDirs: []string{dataDir}},
			engine: engine{version: "rclone v1.66.0"},
			mock: func(m *storagemock.MockRepository) {
				m.On("ListProfiles", mock.Anything).Once().Return([]model.Profile{{ID: "1"}}, nil)
			},
			expStatuses: map[string]model.CheckStatus{
				"rclone":       model.CheckStatusOK,
				"data-dir":     model.CheckStatusOK,
				"database":     model.CheckStatusOK,
				"profiles":     model.CheckStatusOK,
				"allowed-dirs": model.CheckStatusOK,
			},
		},
		"A missing rclone should be an error.": {
			cfg:    config.Config{DataDir: filepath.Join(dataDir, "missing")},
			engine: engine{err: rclone.ErrNotFound},
			mock: func(m *storagemock.MockRepository) {
				m.On("ListProfiles", mock.Anything).Once().Return(nil, nil)
			},
			expStatuses: map[string]model.CheckStatus{
				"rclone":       model.CheckStatusError,
				"data-dir":     model.CheckStatusWarning,
				"database":     model.CheckStatusOK,
				"profiles":     model.CheckStatusWarning,
				"allowed-dirs": model.CheckStatusWarning,
			},
			expErrors: true,
		},
		"A profile listing failure should be an error.": {
			cfg:    config.Config{DataDir: dataDir},
			engine: engine{version: "rclone v1.66.0"},
			mock: func(m *storagemock.MockRepository) {
				m.On("ListProfiles", mock.Anything).Once().Return(nil, fmt.Errorf("database error"))
			},
			expStatuses: map[string]model.CheckStatus{
				"rclone":       model.CheckStatusOK,
				"data-dir":     model.CheckStatusOK,
				"database":     model.CheckStatusOK,
				"profiles":     model.CheckStatusError,
				"allowed-dirs": model.CheckStatusWarning,
			},
			expErrors: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			m := &storagemock.MockRepository{}
			test.mock(m)

			svc, err := doctor.NewService(doctor.ServiceConfig{
				Config:     test.cfg,
				Engine:     test.engine,
				Repository: m,
				Schema:     schema(1),
			})
			require.NoError(t, err)

			got := svc.Run(context.Background())
			assert.Equal(test.expStatuses, statuses(got))
			assert.Equal(test.expErrors, got.HasErrors())
			m.AssertExpectations(t)
		})
	}
}
