package model

import (
	"fmt"
	"time"
)

// JobType is the kind of operation a job performs.
type JobType string

const (
	JobTypeTransferSyncLocalToS3   JobType = "transfer_sync_local_to_s3"
	JobTypeTransferSyncStagingToS3 JobType = "transfer_sync_staging_to_s3"
	JobTypeTransferSyncS3ToLocal   JobType = "transfer_sync_s3_to_local"
	JobTypeTransferDeletePrefix    JobType = "transfer_delete_prefix"
	JobTypeTransferCopyObject      JobType = "transfer_copy_object"
	JobTypeTransferMoveObject      JobType = "transfer_move_object"
	JobTypeTransferCopyBatch       JobType = "transfer_copy_batch"
	JobTypeTransferMoveBatch       JobType = "transfer_move_batch"
	JobTypeTransferCopyPrefix      JobType = "transfer_copy_prefix"
	JobTypeTransferMovePrefix      JobType = "transfer_move_prefix"
	JobTypeS3ZipPrefix             JobType = "s3_zip_prefix"
	JobTypeS3ZipObjects            JobType = "s3_zip_objects"
	JobTypeS3DeleteObjects         JobType = "s3_delete_objects"
	JobTypeS3IndexObjects          JobType = "s3_index_objects"
)

// JobTypes returns all the supported job types.
func JobTypes() []JobType {
	return []JobType{
		JobTypeTransferSyncLocalToS3,
		JobTypeTransferSyncStagingToS3,
		JobTypeTransferSyncS3ToLocal,
		JobTypeTransferDeletePrefix,
		JobTypeTransferCopyObject,
		JobTypeTransferMoveObject,
		JobTypeTransferCopyBatch,
		JobTypeTransferMoveBatch,
		JobTypeTransferCopyPrefix,
		JobTypeTransferMovePrefix,
		JobTypeS3ZipPrefix,
		JobTypeS3ZipObjects,
		JobTypeS3DeleteObjects,
		JobTypeS3IndexObjects,
	}
}

// Valid returns true if the job type is one of the supported ones.
func (t JobType) Valid() bool {
	for _, jt := range JobTypes() {
		if jt == t {
			return true
		}
	}
	return false
}

// ProducesArtifact returns true for job types that build a zip artifact.
func (t JobType) ProducesArtifact() bool {
	return t == JobTypeS3ZipPrefix || t == JobTypeS3ZipObjects
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCanceled  JobStatus = "canceled"
)

// IsTerminal returns true when the job will not change its status anymore.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCanceled:
		return true
	}
	return false
}

// Job represents a user requested transfer or maintenance operation.
type Job struct {
	ID        string
	ProfileID string
	Type      JobType
	Payload   map[string]any
	Status    JobStatus
	Progress  *JobProgress
	Error     string
	ErrorCode ErrorCode
	// CancelRequested is set when a cancellation has been requested from
	// outside the process running the job.
	CancelRequested bool
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// Validate validates the job for creation.
func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if j.ProfileID == "" {
		return fmt.Errorf("profile id is required: %w", ErrNotValid)
	}
	if !j.Type.Valid() {
		return fmt.Errorf("unsupported job type %q: %w", j.Type, ErrNotValid)
	}
	return nil
}

// JobStatusUpdate is an atomic status change of a job. Nil fields are left untouched
// except error and error code that are always set.
type JobStatusUpdate struct {
	Status     JobStatus
	StartedAt  *time.Time
	FinishedAt *time.Time
	Progress   *JobProgress
	Error      string
	ErrorCode  ErrorCode
}

// JobProgress is a point in time snapshot of a job progress. All the
// fields are optional because they are unknown until discovered.
type JobProgress struct {
	ObjectsDone      *int64 `json:"objectsDone,omitempty" yaml:"objectsDone,omitempty"`
	ObjectsTotal     *int64 `json:"objectsTotal,omitempty" yaml:"objectsTotal,omitempty"`
	ObjectsPerSecond *int64 `json:"objectsPerSecond,omitempty" yaml:"objectsPerSecond,omitempty"`
	BytesDone        *int64 `json:"bytesDone,omitempty" yaml:"bytesDone,omitempty"`
	BytesTotal       *int64 `json:"bytesTotal,omitempty" yaml:"bytesTotal,omitempty"`
	SpeedBps         *int64 `json:"speedBps,omitempty" yaml:"speedBps,omitempty"`
	EtaSeconds       *int   `json:"etaSeconds,omitempty" yaml:"etaSeconds,omitempty"`
}

// Clone returns a deep copy of the progress.
func (p JobProgress) Clone() JobProgress {
	return JobProgress{
		ObjectsDone:      cloneInt64(p.ObjectsDone),
		ObjectsTotal:     cloneInt64(p.ObjectsTotal),
		ObjectsPerSecond: cloneInt64(p.ObjectsPerSecond),
		BytesDone:        cloneInt64(p.BytesDone),
		BytesTotal:       cloneInt64(p.BytesTotal),
		SpeedBps:         cloneInt64(p.SpeedBps),
		EtaSeconds:       cloneInt(p.EtaSeconds),
	}
}

// WithoutDerived returns a copy without the instantaneous fields (rates and ETA),
// only the stable done and total counters are kept.
func (p JobProgress) WithoutDerived() JobProgress {
	c := p.Clone()
	c.ObjectsPerSecond = nil
	c.SpeedBps = nil
	c.EtaSeconds = nil
	return c
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// QueueStats are the stats of the pending job queue.
type QueueStats struct {
	Depth    int
	Capacity int
}
