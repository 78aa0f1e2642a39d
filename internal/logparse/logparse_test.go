package logparse_test

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/xferd/internal/logparse"
)

func TestReadLine(t *testing.T) {
	tests := map[string]struct {
		input    string
		maxBytes int
		bufSize  int
		expLines []string
		expTrunc []bool
	}{
		"Lines should be read without line endings.": {
			input:    "a\r\nb\nc",
			maxBytes: 100,
			expLines: []string{"a", "b", "c"},
			expTrunc: []bool{false, false, false},
		},
		"Long lines should be truncated and the rest discarded.": {
			input:    "0123456789\nok\n",
			maxBytes: 4,
			expLines: []string{"0123 [truncated]", "ok"},
			expTrunc: []bool{true, false},
		},
		"Lines longer than the read buffer should be read.": {
			input:    strings.Repeat("x", 40) + "\n",
			maxBytes: 0,
			bufSize:  16,
			expLines: []string{strings.Repeat("x", 40)},
			expTrunc: []bool{false},
		},
		"Lines longer than the read buffer should be truncated at the max.": {
			input:    strings.Repeat("x", 40) + "\nend\n",
			maxBytes: 20,
			bufSize:  16,
			expLines: []string{strings.Repeat("x", 20) + " [truncated]", "end"},
			expTrunc: []bool{true, false},
		},
		"Empty lines should be returned.": {
			input:    "\n\na\n",
			maxBytes: 10,
			expLines: []string{"", "", "a"},
			expTrunc: []bool{false, false, false},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			bufSize := test.bufSize
			if bufSize == 0 {
				bufSize = logparse.ReadBufferSize
			}
			r := bufio.NewReaderSize(strings.NewReader(test.input), bufSize)

			lines := []string{}
			truncs := []bool{}
			for {
				line, trunc, err := logparse.ReadLine(r, test.maxBytes)
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				lines = append(lines, line)
				truncs = append(truncs, trunc)
			}

			assert.Equal(test.expLines, lines)
			assert.Equal(test.expTrunc, truncs)
		})
	}
}

func TestParseLine(t *testing.T) {
	tests := map[string]struct {
		line        string
		expRendered string
		expStats    *logparse.Stats
	}{
		"Plain text lines should be returned as they are.": {
			line:        "2024/01/01 ERROR : something failed",
			expRendered: "2024/01/01 ERROR : something failed",
		},
		"The message and the object should be rendered.": {
			line:        `{"level":"info","msg":"Copied (new)","object":"a/b.txt"}`,
			expRendered: "Copied (new) a/b.txt",
		},
		"The object should not be repeated if the message contains it.": {
			line:        `{"level":"info","msg":"a/b.txt: Deleted","object":"a/b.txt"}`,
			expRendered: "a/b.txt: Deleted",
		},
		"An object without message should be rendered as the object.": {
			line:        `{"object":"a/b.txt"}`,
			expRendered: "a/b.txt",
		},
		"Stats should be returned.": {
			line:        `{"level":"notice","msg":"stats","stats":{"bytes":10,"totalBytes":100,"transfers":1,"totalTransfers":4,"speed":5.5,"eta":3.6,"deletes":0}}`,
			expRendered: "stats",
			expStats:    &logparse.Stats{Bytes: 10, TotalBytes: 100, Transfers: 1, TotalTransfers: 4, Speed: 5.5, ETA: ptr(3.6)},
		},
		"A JSON line without message should be returned as it is.": {
			line:        `{"level":"info"}`,
			expRendered: `{"level":"info"}`,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			rendered, stats := logparse.ParseLine(test.line)
			assert.Equal(test.expRendered, rendered)
			assert.Equal(test.expStats, stats)
		})
	}
}

func TestStatsUpdate(t *testing.T) {
	tests := map[string]struct {
		stats     logparse.Stats
		mode      logparse.Mode
		expUpdate logparse.Update
	}{
		"Transfers mode should use the transfer counters.": {
			stats: logparse.Stats{Bytes: 10, TotalBytes: 100, Transfers: 2, TotalTransfers: 5, Deletes: 7, Speed: 12.9, ETA: ptr(2.5)},
			mode:  logparse.ModeTransfers,
			expUpdate: logparse.Update{
				BytesDone:    10,
				BytesTotal:   ptr(int64(100)),
				ObjectsDone:  2,
				ObjectsTotal: ptr(int64(5)),
				SpeedBps:     ptr(int64(12)),
				EtaSeconds:   ptr(3),
			},
		},
		"Deletes mode should use the deletes counter without total.": {
			stats:     logparse.Stats{Transfers: 2, TotalTransfers: 5, Deletes: 7},
			mode:      logparse.ModeDeletes,
			expUpdate: logparse.Update{ObjectsDone: 7},
		},
		"Unknown values should be nil.": {
			stats:     logparse.Stats{ETA: ptr(0.0)},
			mode:      logparse.ModeTransfers,
			expUpdate: logparse.Update{},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			assert.Equal(test.expUpdate, test.stats.Update(test.mode))
		})
	}
}

func TestCapture(t *testing.T) {
	assert := assert.New(t)

	c := logparse.NewCapture(3)
	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("line %d", i))
	}
	c.Add("")
	assert.Equal("line 2\nline 3\nline 4", c.String())

	var nilCapture *logparse.Capture
	nilCapture.Add("ignored")
	assert.Equal("", nilCapture.String())
}

func TestCaptureConcurrent(t *testing.T) {
	assert := assert.New(t)

	c := logparse.NewCapture(logparse.DefaultCaptureLines)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Add("x")
			}
		}()
	}
	wg.Wait()

	assert.Len(strings.Split(c.String(), "\n"), logparse.DefaultCaptureLines)
}

func ptr[T any](v T) *T { return &v }
