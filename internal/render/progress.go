package render

import "context"

// Sink receives progress updates as a render advances. Implementations
// persist and broadcast; errors are theirs to swallow, progress reporting
// must never fail a render.
type Sink interface {
	Update(ctx context.Context, progress int, stage string)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, progress int, stage string)

func (f SinkFunc) Update(ctx context.Context, progress int, stage string) {
	f(ctx, progress, stage)
}

// NopSink discards updates.
var NopSink Sink = SinkFunc(func(context.Context, int, string) {})

// Stage progress bands. Validation fills 0-5, per-clip rendering 10-50,
// combination 60-95, transitions 96-98, and completion pins 100.
const (
	progressValidated     = 5
	progressClipsStart    = 10
	progressClipsEnd      = 50
	progressCombineStart  = 60
	progressCombineEnd    = 95
	progressTransitionsHi = 98
	progressDone          = 100
)

// tracker serializes updates to a sink and enforces that reported progress
// never moves backwards, whatever order encoder callbacks land in.
type tracker struct {
	sink Sink
	last int
}

func newTracker(sink Sink) *tracker {
	if sink == nil {
		sink = NopSink
	}
	return &tracker{sink: sink, last: -1}
}

func (t *tracker) report(ctx context.Context, progress int, stage string) {
	if progress <= t.last {
		return
	}
	t.last = progress
	t.sink.Update(ctx, progress, stage)
}

// band maps a fraction in [0,1] onto [lo,hi].
func band(lo, hi int, frac float64) int {
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return lo + int(frac*float64(hi-lo))
}

// clipSlices splits the per-clip band across clips in proportion to their
// durations, so a long clip owns a correspondingly long stretch of the bar.
// Returns per-clip [start,end] bounds within the clip band.
func clipSlices(durations []float64) [][2]int {
	n := len(durations)
	if n == 0 {
		return nil
	}
	total := 0.0
	for _, d := range durations {
		if d > 0 {
			total += d
		}
	}
	out := make([][2]int, n)
	if total <= 0 {
		// Degenerate durations fall back to an even split.
		for i := range out {
			out[i] = [2]int{
				band(progressClipsStart, progressClipsEnd, float64(i)/float64(n)),
				band(progressClipsStart, progressClipsEnd, float64(i+1)/float64(n)),
			}
		}
		return out
	}
	acc := 0.0
	for i, d := range durations {
		start := band(progressClipsStart, progressClipsEnd, acc/total)
		if d > 0 {
			acc += d
		}
		out[i] = [2]int{start, band(progressClipsStart, progressClipsEnd, acc/total)}
	}
	return out
}
