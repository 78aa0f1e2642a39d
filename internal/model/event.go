package model

// Published event types.
const (
	EventTypeJobProgress  = "job.progress"
	EventTypeJobLog       = "job.log"
	EventTypeJobCompleted = "job.completed"
	EventTypeJobsDeleted  = "jobs.deleted"
)

// JobProgressEvent is the payload of job.progress events.
type JobProgressEvent struct {
	Status   JobStatus    `json:"status"`
	Progress *JobProgress `json:"progress,omitempty"`
}

// JobLogEvent is the payload of job.log events.
type JobLogEvent struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// JobCompletedEvent is the payload of job.completed events.
type JobCompletedEvent struct {
	Status    JobStatus    `json:"status"`
	Error     string       `json:"error,omitempty"`
	ErrorCode ErrorCode    `json:"errorCode,omitempty"`
	Progress  *JobProgress `json:"progress,omitempty"`
}

// JobsDeletedEvent is the payload of jobs.deleted events.
type JobsDeletedEvent struct {
	JobIDs []string `json:"jobIds"`
	Reason string   `json:"reason"`
}
