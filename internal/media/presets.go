package media

import (
	"fmt"

	"github.com/videoforge/api/internal/model"
)

// Encoding is the resolved set of encoder flags for one export profile.
// Quality is always a canonical preset/CRF pair per codec family, never a
// raw passthrough, so encoder behavior stays predictable across inputs.
type Encoding struct {
	Width        int
	Height       int
	VideoEncoder string
	AudioEncoder string
	Preset       string
	CRF          int
	PixFmt       string
	AudioBitrate string
	VideoBitrate string // explicit override, empty = CRF-driven
	MovFlags     bool   // +faststart for mp4/mov containers
}

var resolutions = map[model.Resolution][2]int{
	model.Resolution720p:  {1280, 720},
	model.Resolution1080p: {1920, 1080},
	model.Resolution4K:    {3840, 2160},
}

// Dimensions returns the pixel size for a named resolution.
func Dimensions(r model.Resolution) (int, int, error) {
	d, ok := resolutions[r]
	if !ok {
		return 0, 0, fmt.Errorf("unknown resolution %q", r)
	}
	return d[0], d[1], nil
}

var videoEncoders = map[model.VideoCodec]string{
	model.VideoCodecH264: "libx264",
	model.VideoCodecH265: "libx265",
	model.VideoCodecVP9:  "libvpx-vp9",
}

var audioEncoders = map[model.AudioCodec]string{
	model.AudioCodecAAC:  "aac",
	model.AudioCodecOpus: "libopus",
}

// x264/x265 share a preset ladder; vp9 is CRF-only with -b:v 0.
var x26xQuality = map[model.Quality]struct {
	preset string
	crf    int
}{
	model.QualityLow:    {"veryfast", 30},
	model.QualityMedium: {"medium", 26},
	model.QualityHigh:   {"medium", 23},
	model.QualityUltra:  {"slow", 18},
}

var vp9Quality = map[model.Quality]int{
	model.QualityLow:    40,
	model.QualityMedium: 34,
	model.QualityHigh:   31,
	model.QualityUltra:  24,
}

var audioBitrates = map[model.Quality]string{
	model.QualityLow:    "96k",
	model.QualityMedium: "128k",
	model.QualityHigh:   "192k",
	model.QualityUltra:  "256k",
}

// EncodingFor maps export settings through the fixed lookup tables. The
// container/codec pairing is re-checked here even though the request layer
// validates it, since the pipeline must not trust upstream validation.
func EncodingFor(s model.ExportSettings) (Encoding, error) {
	if err := s.Validate(); err != nil {
		return Encoding{}, err
	}

	w, h, err := Dimensions(s.Resolution)
	if err != nil {
		return Encoding{}, err
	}

	venc, ok := videoEncoders[s.VideoCodec]
	if !ok {
		return Encoding{}, fmt.Errorf("unknown video codec %q", s.VideoCodec)
	}
	aenc, ok := audioEncoders[s.AudioCodec]
	if !ok {
		return Encoding{}, fmt.Errorf("unknown audio codec %q", s.AudioCodec)
	}

	enc := Encoding{
		Width:        w,
		Height:       h,
		VideoEncoder: venc,
		AudioEncoder: aenc,
		PixFmt:       "yuv420p",
		AudioBitrate: audioBitrates[s.Quality],
		VideoBitrate: s.VideoBitrate,
		MovFlags:     s.Format == model.FormatMP4 || s.Format == model.FormatMOV,
	}
	if s.AudioBitrate != "" {
		enc.AudioBitrate = s.AudioBitrate
	}

	switch s.VideoCodec {
	case model.VideoCodecVP9:
		crf, ok := vp9Quality[s.Quality]
		if !ok {
			return Encoding{}, fmt.Errorf("unknown quality %q", s.Quality)
		}
		enc.CRF = crf
	default:
		q, ok := x26xQuality[s.Quality]
		if !ok {
			return Encoding{}, fmt.Errorf("unknown quality %q", s.Quality)
		}
		enc.Preset = q.preset
		enc.CRF = q.crf
	}

	return enc, nil
}

// videoArgs emits the encoder flag block shared by every invocation.
func (e Encoding) videoArgs() []string {
	args := []string{"-c:v", e.VideoEncoder}
	if e.Preset != "" {
		args = append(args, "-preset", e.Preset)
	}
	args = append(args, "-crf", fmt.Sprintf("%d", e.CRF))
	if e.VideoEncoder == "libvpx-vp9" {
		args = append(args, "-b:v", "0")
	} else if e.VideoBitrate != "" {
		args = append(args, "-b:v", e.VideoBitrate)
	}
	args = append(args, "-pix_fmt", e.PixFmt)
	return args
}

func (e Encoding) audioArgs() []string {
	return []string{"-c:a", e.AudioEncoder, "-b:a", e.AudioBitrate, "-ar", "48000", "-ac", "2"}
}

func (e Encoding) containerArgs() []string {
	if e.MovFlags {
		return []string{"-movflags", "+faststart"}
	}
	return nil
}
