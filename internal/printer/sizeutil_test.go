package printer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := map[string]struct {
		input int64
		exp   string
	}{
		"zero bytes": {
			input: 0,
			exp:   "0 B",
		},
		"negative bytes should return zero": {
			input: -100,
			exp:   "0 B",
		},
		"bytes": {
			input: 512,
			exp:   "512 B",
		},
		"exactly 1 KiB": {
			input: 1024,
			exp:   "1.0 KiB",
		},
		"fractional KiB": {
			input: 1536,
			exp:   "1.5 KiB",
		},
		"hundreds of MiB": {
			input: 700 * 1024 * 1024,
			exp:   "700 MiB",
		},
		"tens of GiB": {
			input: 10 * 1024 * 1024 * 1024,
			exp:   "10 GiB",
		},
		"exactly 1 TiB": {
			input: 1024 * 1024 * 1024 * 1024,
			exp:   "1.0 TiB",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, FormatBytes(test.input))
		})
	}
}

func TestFormatSpeedAndETA(t *testing.T) {
	assert.Equal(t, "2.0 MiB/s", FormatSpeed(2*1024*1024))
	assert.Equal(t, "1m30s", FormatETA(90))
	assert.Equal(t, "0s", FormatETA(-1))
}
