package media

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoforge/api/internal/model"
)

func argString(args []string) string { return strings.Join(args, " ") }

func TestBuildClipArgsImage(t *testing.T) {
	args, err := BuildClipArgs(ClipInput{
		SourcePath: "/assets/photo.jpg",
		Kind:       model.AssetKindImage,
		Clip:       model.Clip{ID: "c1", AssetID: "a1", Duration: 4},
		Settings:   validSettings(),
	}, "/tmp/out.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.Contains(t, s, "-loop 1")
	assert.Contains(t, s, "anullsrc", "image clips synthesize silent audio")
	assert.Contains(t, s, "-map 1:a")
	assert.Contains(t, s, "libx264")
	assert.NotContains(t, s, "zoompan")
}

func TestBuildClipArgsImageKenBurns(t *testing.T) {
	args, err := BuildClipArgs(ClipInput{
		SourcePath: "/assets/photo.jpg",
		Kind:       model.AssetKindImage,
		Clip: model.Clip{
			ID: "c1", AssetID: "a1", Duration: 4,
			Animation: &model.KenBurns{
				Start: model.Rect{X: 0, Y: 0, Width: 1, Height: 1},
				End:   model.Rect{X: 0.25, Y: 0.25, Width: 0.5, Height: 0.5},
				Scale: 1,
			},
		},
		Settings: validSettings(),
	}, "/tmp/out.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.Contains(t, s, "zoompan")
	// End rect is half the frame, a 2x zoom, but the clamp holds at 1.5.
	assert.Contains(t, s, "1.5")
	assert.NotContains(t, s, "z='2")
}

func TestBuildClipArgsVideo(t *testing.T) {
	args, err := BuildClipArgs(ClipInput{
		SourcePath: "/assets/take.mp4",
		Kind:       model.AssetKindVideo,
		Clip:       model.Clip{ID: "c1", AssetID: "a1", StartTime: 2.5, Duration: 10, Volume: 0.8},
		Settings:   validSettings(),
	}, "/tmp/out.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.Contains(t, s, "-ss 2.5")
	assert.Contains(t, s, "-t 10")
	assert.Contains(t, s, "volume=0.8")
	assert.Contains(t, s, "scale=1920:1080")
	assert.Contains(t, s, "pad=1920:1080")
}

func TestBuildClipArgsAudio(t *testing.T) {
	args, err := BuildClipArgs(ClipInput{
		SourcePath: "/assets/music.mp3",
		Kind:       model.AssetKindAudio,
		Clip:       model.Clip{ID: "c1", AssetID: "a1", Duration: 8},
		Settings:   validSettings(),
	}, "/tmp/out.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.Contains(t, s, "color=c=black")
	assert.Contains(t, s, "[1:a]")
}

func TestBuildClipArgsRejectsInvalidClip(t *testing.T) {
	_, err := BuildClipArgs(ClipInput{
		SourcePath: "/assets/take.mp4",
		Kind:       model.AssetKindVideo,
		Clip:       model.Clip{ID: "c1", AssetID: "a1", Duration: 0},
		Settings:   validSettings(),
	}, "/tmp/out.mp4")
	assert.Error(t, err)
}

func TestBuildConcatArgs(t *testing.T) {
	segs := []Segment{
		{Path: "/w/clip_000.mp4", Duration: 4},
		{Path: "/w/clip_001.mp4", Duration: 6},
		{Path: "/w/clip_002.mp4", Duration: 2},
	}
	args, err := BuildConcatArgs(segs, validSettings(), "/w/combined.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.Contains(t, s, "concat=n=3:v=1:a=1")
	assert.Contains(t, s, "-map [v] -map [a]")
}

func TestBuildConcatArgsSingleSegmentReencodes(t *testing.T) {
	args, err := BuildConcatArgs([]Segment{{Path: "/w/clip_000.mp4", Duration: 4}}, validSettings(), "/w/combined.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.NotContains(t, s, "concat")
	assert.Contains(t, s, "libx264", "single clips still pass through the export encoder")
	assert.Contains(t, s, "-map 0:v -map 0:a")
}

func TestBuildTransitionArgs(t *testing.T) {
	segs := []Segment{
		{Path: "/w/clip_000.mp4", Duration: 4, Transition: &model.Transition{Type: model.TransitionCrossDissolve, Duration: 1}},
		{Path: "/w/clip_001.mp4", Duration: 6},
		{Path: "/w/clip_002.mp4", Duration: 2},
	}
	args, err := BuildTransitionArgs(segs, validSettings(), "/w/final.mp4")
	require.NoError(t, err)

	s := argString(args)
	// Offset is the running duration minus the fade: 4 - 1 = 3.
	assert.Contains(t, s, "xfade=transition=dissolve:duration=1:offset=3")
	assert.Contains(t, s, "acrossfade=d=1")
	// The undeclared second boundary is a hard cut.
	assert.Contains(t, s, "concat=n=2:v=1:a=1")
}

func TestBuildTransitionArgsLongFadeDegeneratesToCut(t *testing.T) {
	segs := []Segment{
		{Path: "/w/clip_000.mp4", Duration: 2, Transition: &model.Transition{Type: model.TransitionFade, Duration: 5}},
		{Path: "/w/clip_001.mp4", Duration: 6},
	}
	args, err := BuildTransitionArgs(segs, validSettings(), "/w/final.mp4")
	require.NoError(t, err)

	s := argString(args)
	assert.NotContains(t, s, "xfade")
	assert.Contains(t, s, "concat=n=2:v=1:a=1")
}

func TestHasTransitions(t *testing.T) {
	segs := []Segment{
		{Duration: 4},
		{Duration: 6},
	}
	assert.False(t, HasTransitions(segs))

	segs[0].Transition = &model.Transition{Type: model.TransitionFade, Duration: 1}
	assert.True(t, HasTransitions(segs))

	// A transition on the last segment has no following clip to blend into.
	last := []Segment{
		{Duration: 4},
		{Duration: 6, Transition: &model.Transition{Type: model.TransitionFade, Duration: 1}},
	}
	assert.False(t, HasTransitions(last))
}

func TestTotalDuration(t *testing.T) {
	segs := []Segment{
		{Duration: 4, Transition: &model.Transition{Type: model.TransitionFade, Duration: 1}},
		{Duration: 6},
		{Duration: 2},
	}
	// 4 + 6 + 2 with one second of overlap at the first boundary.
	assert.InDelta(t, 11.0, TotalDuration(segs), 1e-9)

	assert.InDelta(t, 0.0, TotalDuration(nil), 1e-9)
}

func TestTrimFloat(t *testing.T) {
	assert.Equal(t, "2.5", trimFloat(2.5))
	assert.Equal(t, "10", trimFloat(10))
	assert.Equal(t, "0.3333", trimFloat(1.0/3.0))
	assert.Equal(t, "0", trimFloat(0))
}
