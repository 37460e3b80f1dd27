package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoforge/api/internal/model"
)

func validSettings() model.ExportSettings {
	return model.ExportSettings{
		Resolution: model.Resolution1080p,
		Format:     model.FormatMP4,
		Quality:    model.QualityHigh,
		FPS:        30,
		VideoCodec: model.VideoCodecH264,
		AudioCodec: model.AudioCodecAAC,
	}
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(model.Resolution720p)
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	w, h, err = Dimensions(model.Resolution4K)
	require.NoError(t, err)
	assert.Equal(t, 3840, w)
	assert.Equal(t, 2160, h)

	_, _, err = Dimensions(model.Resolution("480p"))
	assert.Error(t, err)
}

func TestEncodingForH264(t *testing.T) {
	enc, err := EncodingFor(validSettings())
	require.NoError(t, err)

	assert.Equal(t, 1920, enc.Width)
	assert.Equal(t, 1080, enc.Height)
	assert.Equal(t, "libx264", enc.VideoEncoder)
	assert.Equal(t, "aac", enc.AudioEncoder)
	assert.Equal(t, "medium", enc.Preset)
	assert.Equal(t, 23, enc.CRF)
	assert.Equal(t, "192k", enc.AudioBitrate)
	assert.True(t, enc.MovFlags)
}

func TestEncodingForVP9(t *testing.T) {
	s := validSettings()
	s.Format = model.FormatWebM
	s.VideoCodec = model.VideoCodecVP9
	s.AudioCodec = model.AudioCodecOpus
	s.Quality = model.QualityUltra

	enc, err := EncodingFor(s)
	require.NoError(t, err)

	assert.Equal(t, "libvpx-vp9", enc.VideoEncoder)
	assert.Equal(t, "libopus", enc.AudioEncoder)
	assert.Equal(t, 24, enc.CRF)
	assert.Empty(t, enc.Preset)
	assert.False(t, enc.MovFlags)

	args := enc.videoArgs()
	assert.Contains(t, args, "-b:v")
	assert.Contains(t, args, "0")
}

func TestEncodingForRejectsBadPairing(t *testing.T) {
	s := validSettings()
	s.VideoCodec = model.VideoCodecVP9
	_, err := EncodingFor(s)
	assert.Error(t, err)
}

func TestEncodingBitrateOverrides(t *testing.T) {
	s := validSettings()
	s.VideoBitrate = "8M"
	s.AudioBitrate = "320k"

	enc, err := EncodingFor(s)
	require.NoError(t, err)
	assert.Equal(t, "320k", enc.AudioBitrate)

	args := enc.videoArgs()
	assert.Contains(t, args, "8M")
}

func TestQualityLadder(t *testing.T) {
	for _, q := range model.ValidQualities {
		s := validSettings()
		s.Quality = q
		enc, err := EncodingFor(s)
		require.NoError(t, err, "quality %s", q)
		assert.Greater(t, enc.CRF, 0)
		assert.NotEmpty(t, enc.AudioBitrate)
	}
}
