package rclone

import (
	"fmt"
	"strconv"
	"strings"
)

// Tune is the per job share of the global transfer parallelism.
type Tune struct {
	ActiveJobs        int
	Transfers         int
	Checkers          int
	UploadConcurrency int
}

// TuneLimits are the global parallelism limits shared by the running jobs.
type TuneLimits struct {
	MaxTransfers        int
	MaxCheckers         int
	S3UploadConcurrency int
}

// ComputeTune divides the limits by the active jobs. Only data moving commands
// are tuned.
func ComputeTune(command string, activeJobs int, l TuneLimits, isS3 bool) (Tune, bool) {
	switch command {
	case "sync", "copy", "move", "copyto", "moveto", "delete", "purge":
	default:
		return Tune{}, false
	}

	activeJobs = max(activeJobs, 1)
	maxT := l.MaxTransfers
	if maxT <= 0 {
		maxT = 4
	}
	maxC := l.MaxCheckers
	if maxC <= 0 {
		maxC = 8
	}

	t := Tune{
		ActiveJobs: activeJobs,
		Transfers:  share(maxT, activeJobs),
		Checkers:   share(maxC, activeJobs),
	}
	if isS3 && l.S3UploadConcurrency > 0 {
		t.UploadConcurrency = share(l.S3UploadConcurrency, activeJobs)
	}

	return t, true
}

func share(total, n int) int { return min(max(total/n, 1), total) }

// Apply appends the tune flags that are not already present.
func (t Tune) Apply(args []string, isS3 bool) []string {
	if t.Transfers > 0 && !HasFlag(args, "--transfers") {
		args = append(args, "--transfers", strconv.Itoa(t.Transfers))
	}
	if t.Checkers > 0 && !HasFlag(args, "--checkers") {
		args = append(args, "--checkers", strconv.Itoa(t.Checkers))
	}
	if isS3 && t.UploadConcurrency > 0 && !HasFlag(args, "--s3-upload-concurrency") {
		args = append(args, "--s3-upload-concurrency", strconv.Itoa(t.UploadConcurrency))
	}
	return args
}

func (t Tune) String() string {
	return fmt.Sprintf("rclone tune: activeJobs=%d transfers=%d checkers=%d uploadConcurrency=%d",
		t.ActiveJobs, t.Transfers, t.Checkers, t.UploadConcurrency)
}

// HasFlag returns true if any of the flags is in args, as `--flag v` or `--flag=v`.
func HasFlag(args []string, flags ...string) bool {
	for _, a := range args {
		for _, f := range flags {
			if a == f || strings.HasPrefix(a, f+"=") {
				return true
			}
		}
	}
	return false
}
