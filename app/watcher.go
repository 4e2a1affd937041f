package app

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TemplateWatcher evicts templates from a loader's memory cache when their
// source files change on disk. Only the memory tier is touched: the cache
// backend already rejects entries older than the source.
type TemplateWatcher struct {
	loader  *TemplateLoader
	root    string
	logger  zerolog.Logger
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	once    sync.Once
}

// NewTemplateWatcher creates a watcher for the template tree under root.
func NewTemplateWatcher(loader *TemplateLoader, root string, logger zerolog.Logger) *TemplateWatcher {
	return &TemplateWatcher{
		loader: loader,
		root:   root,
		logger: logger.With().Str("service", "template-watcher").Logger(),
		stopCh: make(chan struct{}),
	}
}

// Start adds root and its subdirectories to the watch list and begins
// processing events.
func (w *TemplateWatcher) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	w.watcher = watcher

	err = filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", w.root, err)
	}

	go w.watchLoop()

	w.logger.Info().Str("path", w.root).Msg("watching templates for changes")
	return nil
}

// Stop ends the watch loop.
func (w *TemplateWatcher) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
}

func (w *TemplateWatcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("template watcher error")

		case <-w.stopCh:
			return
		}
	}
}

func (w *TemplateWatcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				w.logger.Warn().Err(err).Str("dir", event.Name).Msg("cannot watch new directory")
			}
			return
		}
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	name, ok := w.loader.NameForPath(filepath.ToSlash(event.Name))
	if !ok {
		return
	}
	if w.loader.Evict(name) {
		w.logger.Debug().
			Str("event", event.Op.String()).
			Str("template", name).
			Msg("template changed, evicted")
	}
}
