package media

import (
	"fmt"
	"strings"

	"github.com/videoforge/api/internal/model"
)

// ClipInput describes one per-clip render invocation.
type ClipInput struct {
	SourcePath string
	Kind       model.AssetKind
	Clip       model.Clip
	Settings   model.ExportSettings
}

// Segment is a rendered intermediate plus the timeline facts the
// combination and transition stages need about it.
type Segment struct {
	Path       string
	Duration   float64
	Transition *model.Transition // boundary to the following segment
}

const silentAudioSource = "anullsrc=channel_layout=stereo:sample_rate=48000"

// BuildClipArgs constructs the ffmpeg invocation that renders one clip into
// a uniform intermediate: target resolution, target codecs, and always both
// a video and an audio stream so later concatenation never has to special
// case stream layouts.
func BuildClipArgs(in ClipInput, outPath string) ([]string, error) {
	enc, err := EncodingFor(in.Settings)
	if err != nil {
		return nil, err
	}
	if err := in.Clip.Validate(); err != nil {
		return nil, err
	}

	fps := in.Settings.FPS
	dur := in.Clip.Duration

	var args []string
	var filters []string
	var videoMap, audioMap string

	switch in.Kind {
	case model.AssetKindImage:
		// Stills have no intrinsic duration: loop the frame for the clip
		// duration and synthesize a silent audio track.
		args = append(args,
			"-loop", "1",
			"-framerate", fmt.Sprintf("%d", fps),
			"-t", ffSeconds(dur),
			"-i", in.SourcePath,
			"-f", "lavfi",
			"-t", ffSeconds(dur),
			"-i", silentAudioSource,
		)
		filters = append(filters, "[0:v]"+imageVideoChain(in.Clip.Animation, enc, fps, dur)+"[v]")
		videoMap, audioMap = "[v]", "1:a"

	case model.AssetKindVideo:
		args = append(args,
			"-ss", ffSeconds(in.Clip.StartTime),
			"-t", ffSeconds(dur),
			"-i", in.SourcePath,
		)
		filters = append(filters,
			"[0:v]"+scaleChain(enc, fps)+"[v]",
			"[0:a]"+audioChain(in.Clip.Volume)+"[a]",
		)
		videoMap, audioMap = "[v]", "[a]"

	case model.AssetKindAudio:
		// Audio-track clips become black video plus the trimmed audio so
		// every intermediate carries both streams.
		args = append(args,
			"-f", "lavfi",
			"-t", ffSeconds(dur),
			"-i", fmt.Sprintf("color=c=black:s=%dx%d:r=%d", enc.Width, enc.Height, fps),
			"-ss", ffSeconds(in.Clip.StartTime),
			"-t", ffSeconds(dur),
			"-i", in.SourcePath,
		)
		filters = append(filters,
			"[0:v]setsar=1[v]",
			"[1:a]"+audioChain(in.Clip.Volume)+"[a]",
		)
		videoMap, audioMap = "[v]", "[a]"

	default:
		return nil, fmt.Errorf("unsupported asset kind %q", in.Kind)
	}

	args = append(args, "-filter_complex", strings.Join(filters, ";"))
	args = append(args, "-map", videoMap, "-map", audioMap)
	args = append(args, enc.videoArgs()...)
	args = append(args, enc.audioArgs()...)
	args = append(args, "-r", fmt.Sprintf("%d", fps))
	args = append(args, enc.containerArgs()...)
	args = append(args, "-y", outPath)
	return args, nil
}

// BuildConcatArgs joins uniform intermediates into one output, re-applying
// the export encoding. A single segment is still re-encoded so the export
// settings always apply to the final file.
func BuildConcatArgs(segs []Segment, settings model.ExportSettings, outPath string) ([]string, error) {
	enc, err := EncodingFor(settings)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, fmt.Errorf("no segments to combine")
	}

	var args []string
	for _, s := range segs {
		args = append(args, "-i", s.Path)
	}

	if len(segs) == 1 {
		args = append(args, "-map", "0:v", "-map", "0:a")
	} else {
		var b strings.Builder
		for i := range segs {
			fmt.Fprintf(&b, "[%d:v][%d:a]", i, i)
		}
		fmt.Fprintf(&b, "concat=n=%d:v=1:a=1[v][a]", len(segs))
		args = append(args, "-filter_complex", b.String())
		args = append(args, "-map", "[v]", "-map", "[a]")
	}

	args = append(args, enc.videoArgs()...)
	args = append(args, enc.audioArgs()...)
	args = append(args, "-r", fmt.Sprintf("%d", settings.FPS))
	args = append(args, enc.containerArgs()...)
	args = append(args, "-y", outPath)
	return args, nil
}

// HasTransitions reports whether any boundary declares a transition usable
// by the transition stage.
func HasTransitions(segs []Segment) bool {
	for i := 0; i < len(segs)-1; i++ {
		if t := segs[i].Transition; t != nil && t.Duration > 0 {
			return true
		}
	}
	return false
}

var xfadeNames = map[model.TransitionType]string{
	model.TransitionCrossDissolve: "dissolve",
	model.TransitionFade:          "fade",
}

// BuildTransitionArgs blends adjacent intermediates at boundaries that
// declare a transition (xfade for video, acrossfade for audio) and hard
// concatenates the rest, producing the final stream in one graph.
func BuildTransitionArgs(segs []Segment, settings model.ExportSettings, outPath string) ([]string, error) {
	enc, err := EncodingFor(settings)
	if err != nil {
		return nil, err
	}
	if len(segs) < 2 {
		return nil, fmt.Errorf("transitions need at least two segments, got %d", len(segs))
	}

	var args []string
	for _, s := range segs {
		args = append(args, "-i", s.Path)
	}

	var graph []string
	curV, curA := "[0:v]", "[0:a]"
	curDur := segs[0].Duration

	for i := 1; i < len(segs); i++ {
		next := segs[i]
		outV := fmt.Sprintf("[v%d]", i)
		outA := fmt.Sprintf("[a%d]", i)

		t := segs[i-1].Transition
		d := 0.0
		if t != nil {
			d = t.Duration
		}
		// A fade longer than either side degenerates to a hard cut.
		if d > 0 && d < curDur && d < next.Duration {
			name := xfadeNames[t.Type]
			if name == "" {
				name = "fade"
			}
			graph = append(graph,
				fmt.Sprintf("%s[%d:v]xfade=transition=%s:duration=%s:offset=%s%s",
					curV, i, name, ffSeconds(d), ffSeconds(curDur-d), outV),
				fmt.Sprintf("%s[%d:a]acrossfade=d=%s%s", curA, i, ffSeconds(d), outA),
			)
			curDur += next.Duration - d
		} else {
			graph = append(graph,
				fmt.Sprintf("%s%s[%d:v][%d:a]concat=n=2:v=1:a=1%s%s", curV, curA, i, i, outV, outA),
			)
			curDur += next.Duration
		}
		curV, curA = outV, outA
	}

	args = append(args, "-filter_complex", strings.Join(graph, ";"))
	args = append(args, "-map", curV, "-map", curA)
	args = append(args, enc.videoArgs()...)
	args = append(args, enc.audioArgs()...)
	args = append(args, "-r", fmt.Sprintf("%d", settings.FPS))
	args = append(args, enc.containerArgs()...)
	args = append(args, "-y", outPath)
	return args, nil
}

// TotalDuration is the expected output length of a segment sequence after
// transition overlaps are subtracted. Used to scale encoder progress.
func TotalDuration(segs []Segment) float64 {
	if len(segs) == 0 {
		return 0
	}
	total := segs[0].Duration
	cur := segs[0].Duration
	for i := 1; i < len(segs); i++ {
		next := segs[i]
		d := 0.0
		if t := segs[i-1].Transition; t != nil {
			d = t.Duration
		}
		if d > 0 && d < cur && d < next.Duration {
			total += next.Duration - d
			cur = cur + next.Duration - d
		} else {
			total += next.Duration
			cur += next.Duration
		}
	}
	return total
}

func scaleChain(enc Encoding, fps int) string {
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d",
		enc.Width, enc.Height, enc.Width, enc.Height, fps)
}

func audioChain(volume float64) string {
	if volume > 0 && volume != 1 {
		return fmt.Sprintf("volume=%s", trimFloat(volume))
	}
	return "anull"
}

func imageVideoChain(kb *model.KenBurns, enc Encoding, fps int, dur float64) string {
	if kb == nil {
		return scaleChain(enc, fps)
	}
	return kenBurnsExpr(*kb, enc, fps, dur) + ",setsar=1"
}

// maxZoom caps the Ken Burns effect; past 1.5x stills visibly pixelate.
const maxZoom = 1.5

// kenBurnsExpr renders the pan/zoom as a continuous function of the output
// frame index over the clip's total frame count. Zoom is clamped to
// [1, maxZoom] and the pan window is clamped inside the zoomed frame.
func kenBurnsExpr(kb model.KenBurns, enc Encoding, fps int, dur float64) string {
	frames := int(dur * float64(fps))
	if frames < 1 {
		frames = 1
	}

	z0 := zoomForRect(kb.Start, kb.Scale)
	z1 := zoomForRect(kb.End, kb.Scale)
	cx0, cy0 := rectCenter(kb.Start)
	cx1, cy1 := rectCenter(kb.End)

	zExpr := fmt.Sprintf("min(max(%s+(%s)*on/%d\\,1)\\,%s)",
		trimFloat(z0), trimFloat(z1-z0), frames, trimFloat(maxZoom))
	xExpr := fmt.Sprintf("max(0\\,min(iw-iw/zoom\\,iw*(%s+(%s)*on/%d)-iw/zoom/2))",
		trimFloat(cx0), trimFloat(cx1-cx0), frames)
	yExpr := fmt.Sprintf("max(0\\,min(ih-ih/zoom\\,ih*(%s+(%s)*on/%d)-ih/zoom/2))",
		trimFloat(cy0), trimFloat(cy1-cy0), frames)

	return fmt.Sprintf("zoompan=z='%s':x='%s':y='%s':d=1:s=%dx%d:fps=%d",
		zExpr, xExpr, yExpr, enc.Width, enc.Height, fps)
}

// zoomForRect converts a normalized view rectangle into a zoom factor: a
// narrower rectangle means a tighter view, scaled by the descriptor's
// overall scale, clamped to the allowed range.
func zoomForRect(r model.Rect, scale float64) float64 {
	z := 1.0
	if r.Width > 0 && r.Width < 1 {
		z = 1 / r.Width
	}
	if scale > 0 {
		z *= scale
	}
	if z < 1 {
		z = 1
	}
	if z > maxZoom {
		z = maxZoom
	}
	return z
}

func rectCenter(r model.Rect) (float64, float64) {
	if r.Width <= 0 || r.Height <= 0 {
		return 0.5, 0.5
	}
	return r.X + r.Width/2, r.Y + r.Height/2
}

func ffSeconds(s float64) string {
	return trimFloat(s)
}

// trimFloat formats without trailing zeros so filter expressions stay
// readable in logs.
func trimFloat(f float64) string {
	s := fmt.Sprintf("%.4f", f)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}
