package printer

import (
	"time"

	"github.com/dustin/go-humanize"
)

// FormatBytes returns a human-readable binary byte size string.
// Examples: "0 B", "512 B", "1.5 KiB", "700 MiB", "10 GiB".
func FormatBytes(bytes int64) string {
	return humanize.IBytes(uint64(max(bytes, 0)))
}

// FormatSpeed returns a human-readable transfer speed.
func FormatSpeed(bps int64) string {
	return FormatBytes(bps) + "/s"
}

// FormatETA returns a rounded remaining time.
func FormatETA(seconds int) string {
	return (time.Duration(max(seconds, 0)) * time.Second).String()
}
