package printer

import (
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/model"
)

// JSONPrinter prints job and profile information in JSON format.
type JSONPrinter struct {
	writer io.Writer
}

// NewJSONPrinter creates a new JSON printer.
func NewJSONPrinter(w io.Writer) *JSONPrinter {
	return &JSONPrinter{writer: w}
}

// jobOutput represents a job in the JSON output.
type jobOutput struct {
	ID              string             `json:"id"`
	ProfileID       string             `json:"profile_id"`
	Type            string             `json:"type"`
	Status          string             `json:"status"`
	Payload         map[string]any     `json:"payload,omitempty"`
	Progress        *model.JobProgress `json:"progress,omitempty"`
	Error           string             `json:"error,omitempty"`
	ErrorCode       string             `json:"error_code,omitempty"`
	CancelRequested bool               `json:"cancel_requested,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	StartedAt       *time.Time         `json:"started_at"`
	FinishedAt      *time.Time         `json:"finished_at"`
	// Only set on the status output.
	ArtifactPath string   `json:"artifact_path,omitempty"`
	Log          []string `json:"log,omitempty"`
}

// profileOutput represents a profile without its secrets.
type profileOutput struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name"`
	Provider             string    `json:"provider"`
	Endpoint             string    `json:"endpoint,omitempty"`
	Region               string    `json:"region"`
	ForcePathStyle       bool      `json:"force_path_style"`
	PreserveLeadingSlash bool      `json:"preserve_leading_slash"`
	AccessKeyID          string    `json:"access_key_id"`
	TLSMode              string    `json:"tls_mode"`
	CreatedAt            time.Time `json:"created_at"`
}

// messageOutput represents a simple message output.
type messageOutput struct {
	Message string `json:"message"`
}

func newJobOutput(j model.Job) jobOutput {
	return jobOutput{
		ID:              j.ID,
		ProfileID:       j.ProfileID,
		Type:            string(j.Type),
		Status:          string(j.Status),
		Payload:         j.Payload,
		Progress:        j.Progress,
		Error:           j.Error,
		ErrorCode:       string(j.ErrorCode),
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt.UTC(),
		StartedAt:       utcPtr(j.StartedAt),
		FinishedAt:      utcPtr(j.FinishedAt),
	}
}

func newProfileOutput(p model.Profile) profileOutput {
	return profileOutput{
		ID:                   p.ID,
		Name:                 p.Name,
		Provider:             string(p.Provider),
		Endpoint:             p.Endpoint,
		Region:               p.Region,
		ForcePathStyle:       p.ForcePathStyle,
		PreserveLeadingSlash: p.PreserveLeadingSlash,
		AccessKeyID:          MaskSecret(p.AccessKeyID),
		TLSMode:              tlsMode(p),
		CreatedAt:            p.CreatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func (j *JSONPrinter) encode(v any) error {
	enc := json.NewEncoder(j.writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// PrintJobList prints jobs in JSON format.
func (j *JSONPrinter) PrintJobList(jobs []model.Job) error {
	items := make([]jobOutput, len(jobs))
	for i, job := range jobs {
		items[i] = newJobOutput(job)
	}
	return j.encode(items)
}

// PrintJobStatus prints the detailed job status in JSON format.
func (j *JSONPrinter) PrintJobStatus(s JobStatus) error {
	out := newJobOutput(s.Job)
	out.ArtifactPath = s.ArtifactPath
	out.Log = s.Log
	return j.encode(out)
}

// PrintProfileList prints profiles in JSON format.
func (j *JSONPrinter) PrintProfileList(profiles []model.Profile) error {
	items := make([]profileOutput, len(profiles))
	for i, p := range profiles {
		items[i] = newProfileOutput(p)
	}
	return j.encode(items)
}

// PrintProfile prints a profile in JSON format.
func (j *JSONPrinter) PrintProfile(p model.Profile) error {
	return j.encode(newProfileOutput(p))
}

// PrintMessage prints a simple message in JSON format.
func (j *JSONPrinter) PrintMessage(msg string) error {
	return j.encode(messageOutput{Message: msg})
}

// EventPrinter prints events as JSON lines.
type EventPrinter struct {
	enc *json.Encoder
}

// NewEventPrinter creates a new event printer.
func NewEventPrinter(w io.Writer) *EventPrinter {
	return &EventPrinter{enc: json.NewEncoder(w)}
}

// PrintEvent prints a single event line.
func (e *EventPrinter) PrintEvent(ev events.Event) error {
	return e.enc.Encode(ev)
}
