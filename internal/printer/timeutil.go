package printer

import (
	"time"

	"github.com/dustin/go-humanize"
)

// TimeAgo returns a human-readable time of t relative to now.
// Examples: "5 minutes ago", "3 hours ago", "2 hours from now".
func TimeAgo(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}

// FormatTimestamp returns a formatted timestamp string in UTC.
// Format: "2006-01-02 15:04:05 UTC".
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// FormatDuration returns the elapsed time between two points rounded to seconds.
func FormatDuration(from, to time.Time) string {
	return to.Sub(from).Round(time.Second).String()
}
