package render

import (
	"os"
	"path/filepath"

	"github.com/videoforge/api/internal/model"
)

// Resolver maps an asset reference onto a readable file path. The render
// core never stores asset bytes itself; uploads live with a separate
// service and are mounted locally by deployment.
type Resolver interface {
	Resolve(asset model.Asset) (string, error)
}

// DirResolver resolves assets against a flat directory of uploaded files
// named by asset ID, extension preserved from upload.
type DirResolver struct {
	Dir string
}

func NewDirResolver(dir string) *DirResolver {
	return &DirResolver{Dir: dir}
}

func (r *DirResolver) Resolve(asset model.Asset) (string, error) {
	// Exact name match first, covering uploads stored with their original
	// file name.
	if asset.Name != "" {
		p := filepath.Join(r.Dir, asset.Name)
		if fileExists(p) {
			return p, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(r.Dir, asset.ID+".*"))
	if err == nil && len(matches) > 0 {
		return matches[0], nil
	}

	p := filepath.Join(r.Dir, asset.ID)
	if fileExists(p) {
		return p, nil
	}

	return "", &AssetNotFoundError{AssetID: asset.ID}
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
