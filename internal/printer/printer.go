package printer

import "github.com/slok/xferd/internal/model"

// Printer knows how to print jobs and profiles in different formats.
type Printer interface {
	PrintJobList(jobs []model.Job) error
	PrintJobStatus(s JobStatus) error
	PrintProfileList(profiles []model.Profile) error
	PrintProfile(p model.Profile) error
	PrintMessage(msg string) error
}

// JobStatus is the detailed status of a job.
type JobStatus struct {
	Job          model.Job
	ArtifactPath string
	Log          []string
}
