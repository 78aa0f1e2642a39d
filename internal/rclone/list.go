package rclone

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// ListEntry is an `rclone lsjson` entry.
type ListEntry struct {
	Path    string            `json:"Path"`
	Name    string            `json:"Name"`
	Size    int64             `json:"Size"`
	ModTime string            `json:"ModTime"`
	IsDir   bool              `json:"IsDir"`
	Hashes  map[string]string `json:"Hashes"`
}

// ModTimeValue returns the parsed modification time if any.
func (e ListEntry) ModTimeValue() (time.Time, bool) {
	v := strings.TrimSpace(e.ModTime)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ETag returns the best effort entity tag of the entry.
func (e ListEntry) ETag() string {
	for _, k := range []string{"ETag", "etag", "MD5", "md5"} {
		if v := strings.TrimSpace(e.Hashes[k]); v != "" {
			return v
		}
	}
	for _, v := range e.Hashes {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// ErrStopList can be returned by the entry callback to stop decoding.
var ErrStopList = errors.New("stop list")

// DecodeList streams an `rclone lsjson` array calling onEntry for each entry.
func DecodeList(r io.Reader, onEntry func(ListEntry) error) error {
	dec := json.NewDecoder(r)

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("could not read list start: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '[' {
		return fmt.Errorf("unexpected rclone lsjson output")
	}

	for dec.More() {
		var e ListEntry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("could not decode list entry: %w", err)
		}
		if err := onEntry(e); err != nil {
			return err
		}
	}

	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("could not read list end: %w", err)
	}
	return nil
}

// DecodeStat decodes an `rclone lsjson --stat` single object.
func DecodeStat(r io.Reader) (ListEntry, error) {
	var e ListEntry
	if err := json.NewDecoder(r).Decode(&e); err != nil {
		return ListEntry{}, fmt.Errorf("could not decode stat: %w", err)
	}
	return e, nil
}
