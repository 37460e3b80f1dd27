package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseProgressLine(t *testing.T) {
	sec, ok := parseProgressLine("out_time_us=2500000")
	assert.True(t, ok)
	assert.InDelta(t, 2.5, sec, 1e-9)

	// ffmpeg's out_time_ms is microseconds despite the name.
	sec, ok = parseProgressLine("out_time_ms=10000000")
	assert.True(t, ok)
	assert.InDelta(t, 10.0, sec, 1e-9)

	_, ok = parseProgressLine("frame=120")
	assert.False(t, ok)

	_, ok = parseProgressLine("progress=continue")
	assert.False(t, ok)

	_, ok = parseProgressLine("out_time_us=garbage")
	assert.False(t, ok)

	_, ok = parseProgressLine("out_time_us=-1")
	assert.False(t, ok)

	_, ok = parseProgressLine("")
	assert.False(t, ok)
}

func TestTailBuffer(t *testing.T) {
	var tb tailBuffer

	tb.Write([]byte("  short error\n"))
	assert.Equal(t, "short error", tb.Tail())

	var big tailBuffer
	big.Write([]byte(strings.Repeat("x", stderrTailLimit)))
	big.Write([]byte("the actual failure"))
	tail := big.Tail()
	assert.LessOrEqual(t, len(tail), stderrTailLimit)
	assert.True(t, strings.HasSuffix(tail, "the actual failure"))
}

func TestNewRunnerDefaults(t *testing.T) {
	r := NewRunner("", "", 0)
	assert.Equal(t, "ffmpeg", r.FFmpegPath)
	assert.Equal(t, "ffprobe", r.FFprobePath)

	r = NewRunner("/usr/local/bin/ffmpeg", "/usr/local/bin/ffprobe", 0)
	assert.Equal(t, "/usr/local/bin/ffmpeg", r.FFmpegPath)
}
