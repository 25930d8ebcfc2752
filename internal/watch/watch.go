// Package watch reports test files that appear in a corpus tree.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fentz26/crashcorpus/internal/corpus"
	"github.com/fentz26/crashcorpus/internal/models"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long a path must be quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// Handler processes a batch of settled paths. An error stops the watcher.
type Handler func(ctx context.Context, paths []string) error

// Stats counts watcher activity.
type Stats struct {
	Events  int
	Batches int
	Errors  int
}

// Watcher watches a directory tree. It is driven by a single goroutine in
// Run; the handler runs on that goroutine, so events that arrive during a
// batch queue until it returns.
type Watcher struct {
	watcher  *fsnotify.Watcher
	root     string
	debounce time.Duration
	log      *zap.Logger

	pending map[string]time.Time
	stats   Stats
}

// New watches root and every directory below it.
func New(root string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		watcher:  fw,
		root:     root,
		debounce: debounce,
		log:      log,
		pending:  make(map[string]time.Time),
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// Stats returns the activity counters.
func (w *Watcher) Stats() Stats {
	return w.stats
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return err
		}
		w.log.Debug("Watching directory", zap.String("dir", path))
		return nil
	})
}

// Run delivers settled test paths to h until ctx is done or h fails.
func (w *Watcher) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(w.debounce / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.stats.Errors++
			w.log.Warn("Watcher error", zap.Error(err))

		case <-ticker.C:
			if batch := w.settled(time.Now()); len(batch) > 0 {
				w.stats.Batches++
				if err := h(ctx, batch); err != nil {
					return err
				}
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		if event.Op&fsnotify.Create != 0 {
			if err := w.addTree(event.Name); err != nil {
				w.log.Warn("Failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
		}
		return
	}
	if !Interesting(event.Name) {
		return
	}
	w.stats.Events++
	w.pending[event.Name] = time.Now()
}

// settled removes and returns the paths quiet for the debounce window, in
// lexical order.
func (w *Watcher) settled(now time.Time) []string {
	var batch []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			batch = append(batch, path)
			delete(w.pending, path)
		}
	}
	sort.Strings(batch)
	return batch
}

// Interesting reports whether path could be a test: a supported extension,
// not hidden and not the provenance log.
func Interesting(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || base == corpus.LogName {
		return false
	}
	return models.LanguageOf(path) != models.LanguageUnknown
}
