package printer

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/slok/xferd/internal/model"
)

// TablePrinter prints job and profile information in a table format.
type TablePrinter struct {
	writer  io.Writer
	timeNow func() time.Time
}

// NewTablePrinter creates a new table printer.
func NewTablePrinter(w io.Writer) *TablePrinter {
	return &TablePrinter{writer: w, timeNow: time.Now}
}

// PrintJobList prints jobs in a table format.
func (t *TablePrinter) PrintJobList(jobs []model.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tPROGRESS\tCREATED")
	now := t.timeNow()
	for _, j := range jobs {
		status := string(j.Status)
		if j.ErrorCode != "" && j.Status == model.JobStatusFailed {
			status += " (" + string(j.ErrorCode) + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.Type, status, ProgressSummary(j.Progress), TimeAgo(j.CreatedAt, now))
	}

	return nil
}

// PrintJobStatus prints the detailed status of a job.
func (t *TablePrinter) PrintJobStatus(s JobStatus) error {
	j := s.Job
	fmt.Fprintf(t.writer, "ID:         %s\n", j.ID)
	fmt.Fprintf(t.writer, "Type:       %s\n", j.Type)
	fmt.Fprintf(t.writer, "Profile:    %s\n", j.ProfileID)
	fmt.Fprintf(t.writer, "Status:     %s\n", j.Status)
	if j.CancelRequested && !j.Status.IsTerminal() {
		fmt.Fprintf(t.writer, "Cancel:     requested\n")
	}
	if j.Progress != nil {
		fmt.Fprintf(t.writer, "Progress:   %s\n", ProgressSummary(j.Progress))
		if j.Progress.SpeedBps != nil {
			fmt.Fprintf(t.writer, "Speed:      %s\n", FormatSpeed(*j.Progress.SpeedBps))
		}
		if j.Progress.EtaSeconds != nil {
			fmt.Fprintf(t.writer, "ETA:        %s\n", FormatETA(*j.Progress.EtaSeconds))
		}
	}
	if j.Error != "" {
		fmt.Fprintf(t.writer, "Error:      %s\n", j.Error)
	}
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(j.CreatedAt))
	if j.StartedAt != nil {
		fmt.Fprintf(t.writer, "Started:    %s\n", FormatTimestamp(*j.StartedAt))
	}
	if j.FinishedAt != nil {
		fmt.Fprintf(t.writer, "Finished:   %s\n", FormatTimestamp(*j.FinishedAt))
		if j.StartedAt != nil {
			fmt.Fprintf(t.writer, "Duration:   %s\n", FormatDuration(*j.StartedAt, *j.FinishedAt))
		}
	}
	if s.ArtifactPath != "" {
		fmt.Fprintf(t.writer, "Artifact:   %s\n", s.ArtifactPath)
	}

	if len(s.Log) > 0 {
		fmt.Fprintf(t.writer, "\nLog:\n")
		for _, l := range s.Log {
			fmt.Fprintf(t.writer, "  %s\n", l)
		}
	}

	return nil
}

// PrintProfileList prints profiles in a table format.
func (t *TablePrinter) PrintProfileList(profiles []model.Profile) error {
	if len(profiles) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(t.writer, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintln(tw, "NAME\tID\tPROVIDER\tREGION\tENDPOINT")
	for _, p := range profiles {
		endpoint := p.Endpoint
		if endpoint == "" {
			endpoint = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.ID, p.Provider, p.Region, endpoint)
	}

	return nil
}

// PrintProfile prints a profile without its secrets.
func (t *TablePrinter) PrintProfile(p model.Profile) error {
	fmt.Fprintf(t.writer, "Name:       %s\n", p.Name)
	fmt.Fprintf(t.writer, "ID:         %s\n", p.ID)
	fmt.Fprintf(t.writer, "Provider:   %s\n", p.Provider)
	fmt.Fprintf(t.writer, "Region:     %s\n", p.Region)
	if p.Endpoint != "" {
		fmt.Fprintf(t.writer, "Endpoint:   %s\n", p.Endpoint)
	}
	fmt.Fprintf(t.writer, "Access key: %s\n", MaskSecret(p.AccessKeyID))
	fmt.Fprintf(t.writer, "TLS:        %s\n", tlsMode(p))
	fmt.Fprintf(t.writer, "Created:    %s\n", FormatTimestamp(p.CreatedAt))
	return nil
}

// PrintMessage prints a simple text message.
func (t *TablePrinter) PrintMessage(msg string) error {
	fmt.Fprintln(t.writer, msg)
	return nil
}

// ProgressSummary returns a one line summary of the known progress counters.
func ProgressSummary(p *model.JobProgress) string {
	if p == nil {
		return "-"
	}

	parts := []string{}
	if p.ObjectsDone != nil || p.ObjectsTotal != nil {
		parts = append(parts, counter(p.ObjectsDone, p.ObjectsTotal, func(v int64) string { return fmt.Sprint(v) })+" objects")
	}
	if p.BytesDone != nil || p.BytesTotal != nil {
		parts = append(parts, counter(p.BytesDone, p.BytesTotal, FormatBytes))
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ", ")
}

func counter(done, total *int64, format func(int64) string) string {
	d := "0"
	if done != nil {
		d = format(*done)
	}
	if total == nil {
		return d
	}
	return d + "/" + format(*total)
}

// MaskSecret hides all but the last 4 characters of a secret.
func MaskSecret(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func tlsMode(p model.Profile) string {
	if p.TLS == nil || p.TLS.Mode == "" {
		return string(model.TLSModeDisabled)
	}
	return string(p.TLS.Mode)
}
