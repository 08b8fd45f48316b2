package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"pagespin/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches .pagespin/config.yaml and re-applies the logging section
// on change, so debug logging can be toggled without restarting the TUI.
type Watcher struct {
	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	workspace string
	lastEvent time.Time
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewWatcher creates a config watcher for the given workspace.
func NewWatcher(workspace string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:   w,
		workspace: workspace,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; events are handled in a goroutine
// until Stop is called or the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	// Watch the directory, not the file: editors replace files on save.
	dir := filepath.Dir(Path(w.workspace))
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go func() {
		defer close(w.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			case ev, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != "config.yaml" {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
					continue
				}
				// Debounce rapid saves.
				w.mu.Lock()
				if time.Since(w.lastEvent) < 500*time.Millisecond {
					w.mu.Unlock()
					continue
				}
				w.lastEvent = time.Now()
				w.mu.Unlock()

				if err := logging.Reload(w.workspace); err != nil {
					logging.Get(logging.CategoryBoot).Warn("config reload failed: %v", err)
					continue
				}
				logging.Boot("config reloaded after change to %s", ev.Name)
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				logging.Get(logging.CategoryBoot).Warn("config watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Stop ends watching and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	_ = w.watcher.Close()
	<-w.doneCh
}
