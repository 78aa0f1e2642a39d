package profilelist_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/app/profilelist"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/storage/storagemock"
)

func TestServiceRun(t *testing.T) {
	profiles := []model.Profile{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}

	tests := map[string]struct {
		mock   func(m *storagemock.MockRepository)
		exp    []model.Profile
		expErr bool
	}{
		"Profiles should be listed.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListProfiles", mock.Anything).Once().Return(profiles, nil)
			},
			exp: profiles,
		},
		"Repository errors should be propagated.": {
			mock: func(m *storagemock.MockRepository) {
				m.On("ListProfiles", mock.Anything).Once().Return(nil, fmt.Errorf("database error"))
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

			svc, err := profilelist.NewService(profilelist.ServiceConfig{Repository: m})
			require.NoError(err)

			got, err := svc.Run(context.Background(), profilelist.Request{})
			if test.expErr {
				assert.Error(err)
			} else {
				require.NoError(err)
				assert.Equal(test.exp, got)
			}

			m.AssertExpectations(t)
		})
	}
}
