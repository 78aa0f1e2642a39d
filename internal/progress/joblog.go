package progress

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// JobLogTruncateMargin is how much a job log can grow over its max before being
// rewritten to its tail.
const JobLogTruncateMargin = 256 * 1024

// ErrJobLogClosed is returned when writing to a closed job log.
var ErrJobLogClosed = errors.New("job log writer is closed")

// JobLog is the size bounded on disk log of a job. It's safe for concurrent use.
type JobLog struct {
	mu       sync.Mutex
	f        *os.File
	maxBytes int64
}

// OpenJobLog opens (appending) the job log at path. maxBytes <= 0 means unbounded.
func OpenJobLog(path string, maxBytes int64) (*JobLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("could not create job logs dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("could not open job log: %w", err)
	}

	return &JobLog{f: f, maxBytes: maxBytes}, nil
}

// Write appends p, once the file is over the max plus the margin only the last
// max bytes are kept.
func (l *JobLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return 0, ErrJobLogClosed
	}

	n, err := l.f.Write(p)
	if err != nil {
		return n, err
	}
	if l.maxBytes > 0 {
		_ = l.truncateLocked()
	}
	return n, nil
}

// Linef writes a `[level] message` line.
func (l *JobLog) Linef(level, format string, args ...any) {
	_, _ = fmt.Fprintf(l, "[%s] %s\n", level, fmt.Sprintf(format, args...))
}

// Close closes the log, it can be called multiple times.
func (l *JobLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *JobLog) truncateLocked() error {
	info, err := l.f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= l.maxBytes+JobLogTruncateMargin {
		return nil
	}

	if _, err := l.f.Seek(max(size-l.maxBytes, 0), io.SeekStart); err != nil {
		return err
	}
	tail, err := io.ReadAll(io.LimitReader(l.f, l.maxBytes))
	if err != nil {
		return err
	}

	if err := l.f.Truncate(0); err != nil {
		return err
	}
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = l.f.Write(tail)
	return err
}
