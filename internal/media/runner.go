package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Invoker abstracts process execution so the pipeline can be tested without
// a real ffmpeg binary.
type Invoker interface {
	// Run executes ffmpeg with the given arguments. totalSeconds is the
	// expected output duration; onProgress receives values in [0,1] as the
	// encoder reports position. onProgress may be nil.
	Run(ctx context.Context, args []string, totalSeconds float64, onProgress func(float64)) error
	// Probe returns the duration of a media file in seconds.
	Probe(ctx context.Context, path string) (float64, error)
}

// Runner invokes the ffmpeg and ffprobe binaries.
type Runner struct {
	FFmpegPath  string
	FFprobePath string
	// Timeout bounds a single invocation. Zero means no per-invocation
	// limit beyond the caller's context.
	Timeout time.Duration
}

func NewRunner(ffmpeg, ffprobe string, timeout time.Duration) *Runner {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &Runner{FFmpegPath: ffmpeg, FFprobePath: ffprobe, Timeout: timeout}
}

// stderrTailLimit bounds how much encoder stderr is kept for error reports.
const stderrTailLimit = 4096

func (r *Runner) Run(ctx context.Context, args []string, totalSeconds float64, onProgress func(float64)) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	// -progress pipe:1 emits key=value pairs on stdout; keep stderr for
	// error text only.
	full := append([]string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-progress", "pipe:1",
	}, args...)

	cmd := exec.CommandContext(ctx, r.FFmpegPath, full...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr

	log.Debug().Str("bin", r.FFmpegPath).Strs("args", args).Msg("starting ffmpeg")

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if onProgress == nil || totalSeconds <= 0 {
			continue
		}
		if sec, ok := parseProgressLine(line); ok {
			frac := sec / totalSeconds
			if frac > 1 {
				frac = 1
			}
			if frac >= 0 {
				onProgress(frac)
			}
		}
	}

	waitErr := cmd.Wait()
	if waitErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg aborted: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed: %w: %s", waitErr, stderr.Tail())
	}
	if onProgress != nil {
		onProgress(1)
	}
	return nil
}

// parseProgressLine extracts elapsed output seconds from an ffmpeg
// -progress line. out_time_us/out_time_ms are microseconds in practice.
func parseProgressLine(line string) (float64, bool) {
	key, val, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}
	switch key {
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(val, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		return float64(us) / 1e6, true
	}
	return 0, false
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (r *Runner) Probe(ctx context.Context, path string) (float64, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var pf probeFormat
	if err := json.Unmarshal(out, &pf); err != nil {
		return 0, fmt.Errorf("ffprobe output for %s: %w", path, err)
	}
	dur, err := strconv.ParseFloat(pf.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q for %s: %w", pf.Format.Duration, path, err)
	}
	return dur, nil
}

// tailBuffer keeps only the last stderrTailLimit bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if t.buf.Len() > stderrTailLimit {
		b := t.buf.Bytes()
		trimmed := make([]byte, stderrTailLimit)
		copy(trimmed, b[len(b)-stderrTailLimit:])
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) Tail() string {
	return strings.TrimSpace(t.buf.String())
}
