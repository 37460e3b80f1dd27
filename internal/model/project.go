package model

import "fmt"

// ProjectData is the timeline a client submits for rendering. Shape
// validation is owned by the editing frontend; the pipeline still re-checks
// the invariants it depends on.
type ProjectData struct {
	ProjectSettings ProjectSettings `json:"projectSettings"`
	AssetLibrary    []Asset         `json:"assetLibrary"`
	Timeline        Timeline        `json:"timeline"`
}

type ProjectSettings struct {
	Name     string  `json:"name"`
	Duration float64 `json:"duration,omitempty"`
}

// Asset is a reference into the upload collaborator's library. The render
// core never owns asset bytes; it resolves IDs to paths at render time.
type Asset struct {
	ID   string    `json:"id" validate:"required"`
	Kind AssetKind `json:"kind" validate:"required,oneof=video audio image"`
	Name string    `json:"name,omitempty"`
}

type Timeline struct {
	VideoTracks [][]Clip `json:"videoTracks"`
	AudioTracks [][]Clip `json:"audioTracks"`
}

// TotalClips counts clips across every track of the timeline.
func (t Timeline) TotalClips() int {
	n := 0
	for _, track := range t.VideoTracks {
		n += len(track)
	}
	for _, track := range t.AudioTracks {
		n += len(track)
	}
	return n
}

// Clip places an asset on the timeline.
type Clip struct {
	ID         string      `json:"id" validate:"required"`
	AssetID    string      `json:"assetId" validate:"required"`
	StartTime  float64     `json:"startTime" validate:"gte=0"`
	Duration   float64     `json:"duration" validate:"gt=0"`
	Volume     float64     `json:"volume"`
	Animation  *KenBurns   `json:"animation,omitempty"`
	Transition *Transition `json:"transition,omitempty"`
}

// Validate enforces the clip invariants the pipeline relies on.
func (c Clip) Validate() error {
	if c.Duration <= 0 {
		return fmt.Errorf("clip %s: duration must be > 0, got %g", c.ID, c.Duration)
	}
	if c.StartTime < 0 {
		return fmt.Errorf("clip %s: startTime must be >= 0, got %g", c.ID, c.StartTime)
	}
	return nil
}

// KenBurns describes a continuous pan/zoom over a still image. Rectangles
// are in normalized [0,1] coordinates of the source frame.
type KenBurns struct {
	Start Rect    `json:"start"`
	End   Rect    `json:"end"`
	Scale float64 `json:"scale"`
}

type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Transition declared on a clip applies between it and the following clip.
type Transition struct {
	Type     TransitionType `json:"type" validate:"required,oneof=cross-dissolve fade"`
	Duration float64        `json:"duration" validate:"gt=0"`
}

// ExportSettings select the output container, codecs and quality tier.
type ExportSettings struct {
	Resolution   Resolution `json:"resolution" validate:"required,oneof=720p 1080p 4K"`
	Format       Format     `json:"format" validate:"required,oneof=mp4 mov webm"`
	Quality      Quality    `json:"quality" validate:"required,oneof=low medium high ultra"`
	FPS          int        `json:"fps" validate:"gt=0,lte=120"`
	VideoCodec   VideoCodec `json:"videoCodec" validate:"required,oneof=h264 h265 vp9"`
	AudioCodec   AudioCodec `json:"audioCodec" validate:"required,oneof=aac opus"`
	VideoBitrate string     `json:"videoBitrate,omitempty"`
	AudioBitrate string     `json:"audioBitrate,omitempty"`
}

// Validate enforces the container/codec pairing rule. webm carries VP9+Opus
// and nothing else; the other containers reject the VP9/Opus pair.
func (s ExportSettings) Validate() error {
	if s.Format == FormatWebM {
		if s.VideoCodec != VideoCodecVP9 || s.AudioCodec != AudioCodecOpus {
			return fmt.Errorf("webm requires vp9/opus, got %s/%s", s.VideoCodec, s.AudioCodec)
		}
		return nil
	}
	if s.VideoCodec == VideoCodecVP9 {
		return fmt.Errorf("%s does not support vp9", s.Format)
	}
	if s.AudioCodec == AudioCodecOpus {
		return fmt.Errorf("%s does not support opus", s.Format)
	}
	return nil
}
