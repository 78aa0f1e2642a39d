package logparse

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// ReadBufferSize is the buffer size used to read the process outputs.
const ReadBufferSize = 64 * 1024

// TruncatedSuffix is appended to the lines longer than the max.
const TruncatedSuffix = " [truncated]"

// ReadLine reads a line of at most maxBytes (no limit when <= 0) discarding the
// rest of it. Returns io.EOF only when there is nothing left to return.
func ReadLine(r *bufio.Reader, maxBytes int) (line string, truncated bool, err error) {
	var out strings.Builder
	if maxBytes > 0 {
		out.Grow(min(maxBytes, ReadBufferSize))
	}

	for {
		chunk, err := r.ReadSlice('\n')
		if len(chunk) > 0 {
			if maxBytes <= 0 {
				out.Write(chunk)
			} else {
				remaining := maxBytes - out.Len()
				switch {
				case remaining <= 0:
					truncated = true
				case len(chunk) <= remaining:
					out.Write(chunk)
				default:
					out.Write(chunk[:remaining])
					truncated = true
				}
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if out.Len() == 0 {
				return "", truncated, io.EOF
			}
		default:
			return strings.TrimRight(out.String(), "\r\n"), truncated, err
		}
		break
	}

	line = strings.TrimRight(out.String(), "\r\n")
	if truncated {
		line += TruncatedSuffix
	}
	return line, truncated, nil
}

// Stats is the stats block of an rclone JSON log line.
type Stats struct {
	Bytes          int64    `json:"bytes"`
	TotalBytes     int64    `json:"totalBytes"`
	Transfers      int64    `json:"transfers"`
	TotalTransfers int64    `json:"totalTransfers"`
	Speed          float64  `json:"speed"`
	ETA            *float64 `json:"eta"`
	Deletes        int64    `json:"deletes"`
}

type jsonLine struct {
	Msg    string `json:"msg"`
	Object string `json:"object"`
	Stats  *Stats `json:"stats"`
}

// ParseLine renders a log line and returns its stats if any. Lines that are not
// JSON are returned as they are.
func ParseLine(line string) (rendered string, stats *Stats) {
	var l jsonLine
	if err := json.Unmarshal([]byte(line), &l); err != nil {
		return line, nil
	}

	rendered = strings.TrimSpace(l.Msg)
	if l.Object != "" {
		switch {
		case rendered == "":
			rendered = l.Object
		case !strings.Contains(rendered, l.Object):
			rendered = fmt.Sprintf("%s %s", rendered, l.Object)
		}
	}
	if rendered == "" {
		rendered = line
	}

	return rendered, l.Stats
}

// Mode selects the stats counter used as done objects.
type Mode int

const (
	ModeTransfers Mode = iota
	ModeDeletes
)

// Update is a progress update derived from a stats block. Totals are
// nil when unknown.
type Update struct {
	BytesDone    int64
	BytesTotal   *int64
	ObjectsDone  int64
	ObjectsTotal *int64
	SpeedBps     *int64
	EtaSeconds   *int
}

// Update converts the stats to a progress update.
func (s Stats) Update(mode Mode) Update {
	u := Update{BytesDone: s.Bytes}
	if s.TotalBytes > 0 {
		u.BytesTotal = ptr(s.TotalBytes)
	}

	switch mode {
	case ModeDeletes:
		u.ObjectsDone = s.Deletes
	default:
		u.ObjectsDone = s.Transfers
		if s.TotalTransfers > 0 {
			u.ObjectsTotal = ptr(s.TotalTransfers)
		}
	}

	if s.Speed > 0 {
		u.SpeedBps = ptr(int64(s.Speed))
	}
	if s.ETA != nil && *s.ETA > 0 {
		u.EtaSeconds = ptr(int(math.Round(*s.ETA)))
	}

	return u
}

func ptr[T any](v T) *T { return &v }

// DefaultCaptureLines is the number of lines kept by default for error diagnostics.
const DefaultCaptureLines = 50

// Capture keeps the last lines added. It's safe for concurrent use and a nil
// capture ignores everything.
type Capture struct {
	mu    sync.Mutex
	lines []string
	max   int
}

// NewCapture returns a capture of n lines.
func NewCapture(n int) *Capture {
	return &Capture{max: max(n, 1)}
}

// Add adds a line, empty lines are ignored.
func (c *Capture) Add(line string) {
	if c == nil || line == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.lines = append(c.lines, line)
	if len(c.lines) > c.max {
		c.lines = c.lines[len(c.lines)-c.max:]
	}
}

// String returns the captured lines joined by new lines.
func (c *Capture) String() string {
	if c == nil {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.TrimSpace(strings.Join(c.lines, "\n"))
}
