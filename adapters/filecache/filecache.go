// Package filecache stores compiled templates as files.
package filecache

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/rsesek/hoplite/adapters/idgen"
	"github.com/rsesek/hoplite/ports"
)

// DefaultExt is appended to template names to form cache file names.
const DefaultExt = ".phpi"

// Backend keeps each compiled template in the file path+name+ext. The name is
// used as is, so a name containing slashes lands in a subdirectory.
//
// The file's modification time is the stored timestamp: it is set to the
// source's modification time when the file is written.
type Backend struct {
	fs   afero.Fs
	path string
	ext  string
	ids  ports.IDGenerator
}

// Option configures a Backend.
type Option func(*Backend)

// WithExt replaces the cache file extension.
func WithExt(ext string) Option {
	return func(b *Backend) { b.ext = ext }
}

// WithIDGenerator sets the source of temporary file suffixes.
func WithIDGenerator(ids ports.IDGenerator) Option {
	return func(b *Backend) { b.ids = ids }
}

// New creates a backend writing under path on fsys. path is a prefix, not a
// directory: it should normally end with a separator.
func New(fsys afero.Fs, path string, opts ...Option) *Backend {
	b := &Backend{fs: fsys, path: path, ext: DefaultExt, ids: idgen.UUID{}}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Path returns the cache file used for name.
func (b *Backend) Path(name string) string {
	return b.path + name + b.ext
}

// Get returns the cached data for name unless it is missing, unreadable or
// older than modTime.
func (b *Backend) Get(_ context.Context, name string, modTime time.Time) ([]byte, bool, error) {
	p := b.Path(name)

	info, err := b.fs.Stat(p)
	if err != nil {
		return nil, false, nil
	}
	if info.ModTime().Before(modTime) {
		return nil, false, nil
	}

	data, err := afero.ReadFile(b.fs, p)
	if err != nil {
		return nil, false, nil
	}
	return data, true, nil
}

// Put writes data for name. The file is written under a temporary name and
// renamed into place, so readers never see a partial file and the last writer
// wins.
func (b *Backend) Put(_ context.Context, name string, modTime time.Time, data []byte) error {
	p := b.Path(name)

	if dir := filepath.Dir(p); dir != "." {
		if err := b.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache %s to %s: %w", name, p, err)
		}
	}

	tmp := p + "." + b.ids.New() + ".tmp"
	if err := afero.WriteFile(b.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("cache %s to %s: %w", name, p, err)
	}
	if err := b.fs.Chtimes(tmp, modTime, modTime); err != nil {
		b.fs.Remove(tmp)
		return fmt.Errorf("cache %s to %s: %w", name, p, err)
	}
	if err := b.fs.Rename(tmp, p); err != nil {
		b.fs.Remove(tmp)
		return fmt.Errorf("cache %s to %s: %w", name, p, err)
	}
	return nil
}

var _ ports.CacheBackend = (*Backend)(nil)
