package render

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/videoforge/api/internal/model"
)

func TestDirResolver(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "asset-1.mp4"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "clip.jpg"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rawfile"), []byte("x"), 0o644))

	r := NewDirResolver(dir)

	t.Run("by id with extension", func(t *testing.T) {
		p, err := r.Resolve(model.Asset{ID: "asset-1", Kind: model.AssetKindVideo})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "asset-1.mp4"), p)
	})

	t.Run("by original name", func(t *testing.T) {
		p, err := r.Resolve(model.Asset{ID: "whatever", Name: "clip.jpg", Kind: model.AssetKindImage})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "clip.jpg"), p)
	})

	t.Run("bare id", func(t *testing.T) {
		p, err := r.Resolve(model.Asset{ID: "rawfile", Kind: model.AssetKindVideo})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "rawfile"), p)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := r.Resolve(model.Asset{ID: "nope", Kind: model.AssetKindVideo})
		var nf *AssetNotFoundError
		require.True(t, errors.As(err, &nf))
		assert.Equal(t, "nope", nf.AssetID)
	})
}
