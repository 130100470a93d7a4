// Package watcher invalidates cached renders when their source projects
// change on disk. Tokens are registered against the source path they were
// rendered from; a debounced fsnotify event on that path marks every
// associated token dirty.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/okonma/rendercache/internal/logging"
	"github.com/okonma/rendercache/internal/token"
)

// SourceWatcher maps watched source files to the tokens derived from them.
type SourceWatcher struct {
	watcher  *fsnotify.Watcher
	store    *token.Store
	logger   logging.Logger
	debounce time.Duration

	mu      sync.Mutex
	sources map[string][]string // source path -> token ids
	timers  map[string]*time.Timer
}

// New creates a SourceWatcher. A debounce of around 300ms groups the rapid
// write bursts editors produce into one invalidation.
func New(store *token.Store, debounce time.Duration, logger logging.Logger) (*SourceWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &SourceWatcher{
		watcher:  fsWatcher,
		store:    store,
		logger:   logger.WithComponent("watcher"),
		debounce: debounce,
		sources:  make(map[string][]string),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// Track associates a token with the source file it renders from and begins
// watching that file. Tracking the same pair twice is a no-op.
func (w *SourceWatcher) Track(sourcePath, tokenID string) error {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	ids, watched := w.sources[abs]
	for _, id := range ids {
		if id == tokenID {
			return nil
		}
	}
	w.sources[abs] = append(ids, tokenID)

	if !watched {
		// Watch the directory rather than the file: editors replace
		// files on save, which drops file-level watches.
		if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
			return err
		}
	}
	return nil
}

// Start consumes filesystem events until the context is cancelled.
func (w *SourceWatcher) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.schedule(ctx, event.Name)
				}
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn(ctx, err, "filesystem watch error")
			}
		}
	}()
}

// schedule debounces invalidation for one source path.
func (w *SourceWatcher) schedule(ctx context.Context, path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, tracked := w.sources[abs]; !tracked {
		return
	}
	if timer, ok := w.timers[abs]; ok {
		timer.Stop()
	}
	w.timers[abs] = time.AfterFunc(w.debounce, func() {
		w.invalidate(ctx, abs)
	})
}

func (w *SourceWatcher) invalidate(ctx context.Context, sourcePath string) {
	w.mu.Lock()
	ids := make([]string, len(w.sources[sourcePath]))
	copy(ids, w.sources[sourcePath])
	delete(w.timers, sourcePath)
	w.mu.Unlock()

	for _, id := range ids {
		t, ok := w.store.Get(id)
		if !ok {
			continue
		}
		// A token mid-render keeps rendering; the fresh output is
		// already stale and the next enqueue will replace it.
		if t.Status == token.StatusRendering {
			continue
		}
		if _, err := w.store.MarkDirty(id); err != nil {
			w.logger.Warn(ctx, err, "failed to invalidate token", "token_id", id)
			continue
		}
		w.logger.Info(ctx, "source changed, token invalidated",
			"token_id", id, "source", sourcePath)
	}
}

// Close stops the underlying filesystem watcher.
func (w *SourceWatcher) Close() error {
	return w.watcher.Close()
}
