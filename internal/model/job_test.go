package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slok/xferd/internal/model"
)

func TestJobValidate(t *testing.T) {
	tests := map[string]struct {
		job    model.Job
		expErr bool
	}{
		"A valid job should not fail.": {
			job: model.Job{ID: "01J", ProfileID: "p1", Type: model.JobTypeS3DeleteObjects},
		},
		"A job without ID should fail.": {
			job:    model.Job{ProfileID: "p1", Type: model.JobTypeS3DeleteObjects},
			expErr: true,
		},
		"A job without profile should fail.": {
			job:    model.Job{ID: "01J", Type: model.JobTypeS3DeleteObjects},
			expErr: true,
		},
		"A job with an unknown type should fail.": {
			job:    model.Job{ID: "01J", ProfileID: "p1", Type: "transfer_teleport"},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			err := test.job.Validate()
			if test.expErr {
				assert.ErrorIs(err, model.ErrNotValid)
			} else {
				assert.NoError(err)
			}
		})
	}
}

func TestJobStatusIsTerminal(t *testing.T) {
	assert := assert.New(t)

	assert.False(model.JobStatusQueued.IsTerminal())
	assert.False(model.JobStatusRunning.IsTerminal())
	assert.True(model.JobStatusSucceeded.IsTerminal())
	assert.True(model.JobStatusFailed.IsTerminal())
	assert.True(model.JobStatusCanceled.IsTerminal())
}

func TestJobProgressWithoutDerived(t *testing.T) {
	assert := assert.New(t)

	p := model.JobProgress{
		ObjectsDone:      model.Int64(3),
		ObjectsTotal:     model.Int64(10),
		ObjectsPerSecond: model.Int64(2),
		BytesDone:        model.Int64(300),
		BytesTotal:       model.Int64(1000),
		SpeedBps:         model.Int64(150),
		EtaSeconds:       model.Int(5),
	}

	got := p.WithoutDerived()
	assert.Equal(model.JobProgress{
		ObjectsDone:  model.Int64(3),
		ObjectsTotal: model.Int64(10),
		BytesDone:    model.Int64(300),
		BytesTotal:   model.Int64(1000),
	}, got)

	// Source must not be mutated nor shared.
	*got.ObjectsDone = 99
	assert.Equal(int64(3), *p.ObjectsDone)
	assert.NotNil(p.SpeedBps)
}

func TestFormatErrorMessage(t *testing.T) {
	tests := map[string]struct {
		msg    string
		code   model.ErrorCode
		expMsg string
	}{
		"Message should be prefixed with the code.": {
			msg:    "rclone copyto: boom",
			code:   model.ErrorCodeNetworkError,
			expMsg: "[network_error] rclone copyto: boom",
		},
		"A message that already has the code should not be prefixed.": {
			msg:    "failed with not_found",
			code:   model.ErrorCodeNotFound,
			expMsg: "failed with not_found",
		},
		"An empty code should not prefix.": {
			msg:    "boom",
			expMsg: "boom",
		},
		"Spaces should be trimmed.": {
			msg:    "  boom \n",
			code:   model.ErrorCodeUnknown,
			expMsg: "[unknown] boom",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.expMsg, model.FormatErrorMessage(test.msg, test.code))
		})
	}
}

func TestErrorCodeOf(t *testing.T) {
	assert := assert.New(t)

	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("could not run: %w", model.NewJobError(model.ErrorCodeEndpointUnreachable, "rclone lsjson: refused", cause))

	code, ok := model.ErrorCodeOf(err)
	assert.True(ok)
	assert.Equal(model.ErrorCodeEndpointUnreachable, code)
	assert.ErrorIs(err, cause)
	assert.Equal("could not run: [endpoint_unreachable] rclone lsjson: refused", err.Error())

	_, ok = model.ErrorCodeOf(errors.New("plain"))
	assert.False(ok)

	verr := model.NewValidationError("payload.%s is required", "bucket")
	assert.ErrorIs(verr, model.ErrNotValid)
	assert.Equal("[validation_error] payload.bucket is required", verr.Error())
}

func TestProfileValidate(t *testing.T) {
	tests := map[string]struct {
		profile model.Profile
		expErr  bool
	}{
		"A valid AWS profile should not fail.": {
			profile: model.Profile{ID: "p1", Name: "prod", Provider: model.ProfileProviderAWS, Region: "eu-west-1"},
		},
		"An unknown provider should fail.": {
			profile: model.Profile{ID: "p1", Name: "prod", Provider: "gcs", Region: "eu-west-1"},
			expErr:  true,
		},
		"A profile without region should fail.": {
			profile: model.Profile{ID: "p1", Name: "prod", Provider: model.ProfileProviderAWS},
			expErr:  true,
		},
		"An mTLS profile without key should fail.": {
			profile: model.Profile{
				ID: "p1", Name: "minio", Provider: model.ProfileProviderS3Compatible, Region: "us-east-1",
				TLS: &model.TLSConfig{Mode: model.TLSModeMTLS, ClientCertPEM: "cert"},
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			err := test.profile.Validate()
			if test.expErr {
				assert.ErrorIs(t, err, model.ErrNotValid)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
