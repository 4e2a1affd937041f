package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/rsesek/hoplite/adapters/clock"
	"github.com/rsesek/hoplite/domain/template"
	"github.com/rsesek/hoplite/ports"
)

// DefaultTemplatePath is the path pattern used when none is configured. The
// template name is substituted for %s.
const DefaultTemplatePath = "%s.tpl"

// DefaultMemoryTemplates bounds the in-memory template cache.
const DefaultMemoryTemplates = 256

// MaxImportDepth bounds how deeply templates may import one another.
const MaxImportDepth = 32

var (
	// ErrTemplateNotFound is returned when a template source file does not exist.
	ErrTemplateNotFound = errors.New("template not found")
	// ErrImportCycle is returned when a template imports itself, directly or
	// through other templates.
	ErrImportCycle = errors.New("template import cycle")
	// ErrImportDepth is returned when nested imports exceed MaxImportDepth.
	ErrImportDepth = errors.New("template imports nested too deeply")
)

// LoaderError is returned by TemplateLoader.Load when a template cannot be
// read, compiled or cached.
type LoaderError struct {
	Name string
	Err  error
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("could not load template %s: %v", e.Name, e.Err)
}

func (e *LoaderError) Unwrap() error { return e.Err }

// LoaderConfig configures a TemplateLoader.
type LoaderConfig struct {
	FS          afero.Fs
	PathPattern string             // e.g. "views/%s.tpl"
	Backend     ports.CacheBackend // nil disables persistent caching
	MemorySize  int
	BaseURL     string // prefix for the url builtin
	OpenDelim   string
	CloseDelim  string
	Observer    ports.TemplateObserver
	Clock       ports.Clock
}

// TemplateLoader reads templates from a filesystem, compiles them and keeps
// the results in memory and, optionally, in a CacheBackend.
//
// Loaders are safe for concurrent use. Two goroutines loading the same
// uncached template may both compile it.
type TemplateLoader struct {
	fs       afero.Fs
	pattern  string
	backend  ports.CacheBackend
	memory   *lru.Cache[string, *template.Template]
	baseURL  string
	delims   []template.Option
	observer ports.TemplateObserver
	clock    ports.Clock
	logger   zerolog.Logger

	mu    sync.Mutex
	usage map[string]int
}

// NewTemplateLoader creates a loader.
func NewTemplateLoader(cfg LoaderConfig, logger zerolog.Logger) (*TemplateLoader, error) {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.PathPattern == "" {
		cfg.PathPattern = DefaultTemplatePath
	}
	if !strings.Contains(cfg.PathPattern, "%s") {
		return nil, fmt.Errorf("template path %q has no %%s verb", cfg.PathPattern)
	}
	if cfg.MemorySize <= 0 {
		cfg.MemorySize = DefaultMemoryTemplates
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}

	memory, err := lru.New[string, *template.Template](cfg.MemorySize)
	if err != nil {
		return nil, fmt.Errorf("template memory cache: %w", err)
	}

	l := &TemplateLoader{
		fs:       cfg.FS,
		pattern:  cfg.PathPattern,
		backend:  cfg.Backend,
		memory:   memory,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		observer: cfg.Observer,
		clock:    cfg.Clock,
		logger:   logger.With().Str("service", "templates").Logger(),
		usage:    make(map[string]int),
	}
	if cfg.OpenDelim != "" || cfg.CloseDelim != "" {
		l.delims = []template.Option{template.WithDelims(cfg.OpenDelim, cfg.CloseDelim)}
	}
	return l, nil
}

// TemplatePath returns the source file path for name.
func (l *TemplateLoader) TemplatePath(name string) string {
	return fmt.Sprintf(l.pattern, name)
}

// NameForPath is the inverse of TemplatePath.
func (l *TemplateLoader) NameForPath(path string) (string, bool) {
	prefix, suffix, _ := strings.Cut(l.pattern, "%s")
	if len(path) <= len(prefix)+len(suffix) ||
		!strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		return "", false
	}
	return path[len(prefix) : len(path)-len(suffix)], true
}

// Load returns a copy of the named template. The in-memory cache is tried
// first, then the cache backend, and finally the source file is compiled and
// written to the backend.
func (l *TemplateLoader) Load(ctx context.Context, name string) (*template.Template, error) {
	start := l.clock.Now()

	l.mu.Lock()
	if _, ok := l.usage[name]; !ok {
		l.usage[name] = 0
	}
	l.mu.Unlock()

	if t, ok := l.memory.Get(name); ok {
		l.loaded(ports.TierMemory, start)
		return t.Clone(), nil
	}

	path := l.TemplatePath(name)
	info, err := l.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoaderError{Name: name, Err: ErrTemplateNotFound}
		}
		return nil, &LoaderError{Name: name, Err: err}
	}

	if t := l.queryBackend(ctx, name, info.ModTime()); t != nil {
		l.memory.Add(name, t)
		l.loaded(ports.TierBackend, start)
		return t.Clone(), nil
	}

	t, err := l.compile(ctx, name, path, info.ModTime())
	if err != nil {
		return nil, err
	}
	l.memory.Add(name, t)
	l.loaded(ports.TierSource, start)
	return t.Clone(), nil
}

func (l *TemplateLoader) queryBackend(ctx context.Context, name string, modTime time.Time) *template.Template {
	if l.backend == nil {
		return nil
	}
	data, ok, err := l.backend.Get(ctx, name, modTime)
	if err != nil {
		l.logger.Warn().Err(err).Str("template", name).Msg("template cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	t, err := template.NewFromCompiled(name, string(data))
	if err != nil {
		l.logger.Warn().Err(err).Str("template", name).Msg("discarding unusable cached template")
		return nil
	}
	t.SetBuiltins(l)
	return t
}

func (l *TemplateLoader) compile(ctx context.Context, name, path string, modTime time.Time) (*template.Template, error) {
	source, err := afero.ReadFile(l.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			err = ErrTemplateNotFound
		}
		return nil, &LoaderError{Name: name, Err: err}
	}

	t, err := template.New(name, string(source), l.delims...)
	if err != nil {
		if l.observer != nil {
			l.observer.TemplateCompileFailed()
		}
		return nil, &LoaderError{Name: name, Err: err}
	}
	t.SetBuiltins(l)

	if l.backend != nil {
		if err := l.backend.Put(ctx, name, modTime, []byte(t.Compiled())); err != nil {
			return nil, &LoaderError{Name: name, Err: err}
		}
	}

	l.logger.Debug().Str("template", name).Str("path", path).Msg("compiled template")
	return t, nil
}

func (l *TemplateLoader) loaded(tier string, start time.Time) {
	if l.observer != nil {
		l.observer.TemplateLoaded(tier, l.clock.Now().Sub(start))
	}
}

// Evict drops name from the in-memory cache so the next Load consults the
// backend and the source file again.
func (l *TemplateLoader) Evict(name string) bool {
	return l.memory.Remove(name)
}

// Cached returns the names held in memory, oldest first.
func (l *TemplateLoader) Cached() []string {
	return l.memory.Keys()
}

// Precompile loads every template found under the directory of the path
// pattern, filling the memory cache and the backend. Templates that fail to
// load are reported together; the others are still loaded.
func (l *TemplateLoader) Precompile(ctx context.Context) ([]string, error) {
	prefix, _, _ := strings.Cut(l.pattern, "%s")
	root := path.Dir(prefix + "x")

	var (
		names []string
		errs  []error
	)
	err := afero.Walk(l.fs, root, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		name, ok := l.NameForPath(filepath.ToSlash(p))
		if !ok {
			return nil
		}
		if _, err := l.Load(ctx, name); err != nil {
			errs = append(errs, err)
			return nil
		}
		names = append(names, name)
		return ctx.Err()
	})
	if err != nil {
		return names, fmt.Errorf("precompile %s: %w", root, err)
	}
	return names, errors.Join(errs...)
}

// MarkRendered counts one rendering of name. The template must have been
// loaded through this loader.
func (l *TemplateLoader) MarkRendered(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.usage[name]; !ok {
		return fmt.Errorf("template %s has not been loaded through this loader", name)
	}
	l.usage[name]++
	return nil
}

// TemplateUsage is the number of renders recorded for one template.
type TemplateUsage struct {
	Name    string `json:"name"`
	Renders int    `json:"renders"`
}

// Usage returns render counts for every template loaded so far, by name.
func (l *TemplateLoader) Usage() []TemplateUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]TemplateUsage, 0, len(l.usage))
	for name, n := range l.usage {
		out = append(out, TemplateUsage{Name: name, Renders: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// URL implements template.Builtins.
func (l *TemplateLoader) URL(path string) string {
	return l.baseURL + "/" + strings.TrimLeft(path, "/")
}

type importChainKey struct{}

// Import implements template.Builtins. The names being rendered travel in ctx
// so that cycles and runaway nesting fail the render instead of the process.
func (l *TemplateLoader) Import(ctx context.Context, name string, vars map[string]any) (string, error) {
	chain, _ := ctx.Value(importChainKey{}).([]string)
	if slices.Contains(chain, name) {
		return "", fmt.Errorf("%w: %s -> %s", ErrImportCycle, strings.Join(chain, " -> "), name)
	}
	if len(chain) >= MaxImportDepth {
		return "", fmt.Errorf("%w: %s at depth %d", ErrImportDepth, name, len(chain))
	}
	ctx = context.WithValue(ctx, importChainKey{}, append(slices.Clip(chain), name))

	t, err := l.Load(ctx, name)
	if err != nil {
		return "", err
	}
	out, err := t.Render(ctx, vars)
	if err != nil {
		return "", err
	}
	_ = l.MarkRendered(name)
	return out, nil
}

// Render loads name and renders it with vars.
func (l *TemplateLoader) Render(ctx context.Context, name string, vars map[string]any) (string, error) {
	return l.Import(ctx, name, vars)
}

var _ template.Builtins = (*TemplateLoader)(nil)
