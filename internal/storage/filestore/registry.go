package filestore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/gitdav/internal/cache"
	"github.com/sonroyaalmerol/gitdav/internal/storage"
	"github.com/sonroyaalmerol/gitdav/internal/vcs"
)

var ErrOutsideRoot = errors.New("path escapes storage root")

// Registry hands out one Collection per directory below the storage root.
// With max > 0 the least recently used collections are dropped from memory;
// they are rebuilt from disk on the next reference.
type Registry struct {
	root   string
	vcs    vcs.VersionControl
	logger zerolog.Logger
	cols   *cache.Cache[string, *Collection]

	encoding string
}

func NewRegistry(root string, vc vcs.VersionControl, max int, logger zerolog.Logger) (*Registry, error) {
	if root == "" {
		return nil, errors.New("storage folder required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	r := &Registry{root: abs, vcs: vc, logger: logger}
	r.cols = cache.NewLRU[string, *Collection](max, func(url string, _ *Collection) {
		r.logger.Debug().Str("collection", url).Msg("collection evicted")
	})
	return r, nil
}

func (r *Registry) Root() string { return r.root }

// SetStockEncoding sets the charset used to read item files. It applies to
// collections loaded afterwards.
func (r *Registry) SetStockEncoding(charset string) { r.encoding = charset }

// Dir maps a collection URL ("alice/work") to its directory, refusing
// anything that would land outside the root.
func (r *Registry) Dir(url string) (string, error) {
	clean := strings.Trim(path.Clean("/"+url), "/")
	for _, seg := range strings.Split(url, "/") {
		if seg == ".." {
			return "", fmt.Errorf("%q: %w", url, ErrOutsideRoot)
		}
	}
	dir := filepath.Join(r.root, filepath.FromSlash(clean))
	rel, err := filepath.Rel(r.root, dir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", url, ErrOutsideRoot)
	}
	return dir, nil
}

// IsCollection reports whether url names an existing directory.
func (r *Registry) IsCollection(url string) bool {
	dir, err := r.Dir(url)
	if err != nil {
		return false
	}
	fi, err := os.Stat(dir)
	return err == nil && fi.IsDir()
}

// Get returns the collection for url, creating the in-memory index on first
// use. The directory must exist.
func (r *Registry) Get(url string) (*Collection, error) {
	url = strings.Trim(path.Clean("/"+url), "/")
	dir, err := r.Dir(url)
	if err != nil {
		return nil, err
	}
	return r.cols.GetOrCreate(url, func() (*Collection, error) {
		fi, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("collection %s: %w", url, storage.ErrNotFound)
			}
			return nil, err
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("collection %s: %w", url, storage.ErrNotFound)
		}
		col := NewCollection(dir, url, r.vcs, r.logger)
		col.encoding = r.encoding
		return col, nil
	})
}

// Create makes the directory for a new collection. It fails with
// fs.ErrExist when something already lives there.
func (r *Registry) Create(url string) (string, error) {
	dir, err := r.Dir(url)
	if err != nil {
		return "", err
	}
	if dir == r.root {
		return "", fmt.Errorf("%s: %w", url, fs.ErrExist)
	}
	if _, err := os.Stat(dir); err == nil {
		return "", fmt.Errorf("%s: %w", url, fs.ErrExist)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (r *Registry) Len() int { return r.cols.Len() }
