package credentials

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"harbor-bridge/pkg/logging"
)

const (
	// DefaultDebounceInterval is how long the file has to be quiet before a
	// reload.
	DefaultDebounceInterval = 500 * time.Millisecond

	// DefaultPollInterval is used when fsnotify cannot watch the directory.
	DefaultPollInterval = 5 * time.Second
)

// Watcher reloads a Store when its credentials file changes on disk.
type Watcher struct {
	store    *Store
	debounce time.Duration
	poll     time.Duration

	// onReload is called after every reload, for tests.
	onReload func()
}

// NewWatcher creates a watcher for store.
func NewWatcher(store *Store) *Watcher {
	return &Watcher{
		store:    store,
		debounce: DefaultDebounceInterval,
		poll:     DefaultPollInterval,
	}
}

// Run watches until ctx is done. It falls back to polling the file's
// modification time when fsnotify is unavailable.
func (w *Watcher) Run(ctx context.Context) {
	path := w.store.Path()
	if path == "" {
		return
	}
	dir := filepath.Dir(path)

	// The directory is watched rather than the file: saves replace the file
	// by rename.
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logging.Warn("Credentials", "Cannot create %s, credential reload disabled: %v", dir, err)
		return
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("Credentials", "fsnotify not available, falling back to polling: %v", err)
		w.pollForChanges(ctx, path)
		return
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		logging.Warn("Credentials", "Failed to watch %s, falling back to polling: %v", dir, err)
		w.pollForChanges(ctx, path)
		return
	}

	logging.Debug("Credentials", "Watching %s for credential changes", path)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logging.Error("Credentials", err, "fsnotify error")
		}
	}
}

func (w *Watcher) pollForChanges(ctx context.Context, path string) {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	last := modTime(path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if current := modTime(path); !current.Equal(last) {
				last = current
				w.reload()
			}
		}
	}
}

func (w *Watcher) reload() {
	if err := w.store.Reload(); err != nil {
		logging.Error("Credentials", err, "Failed to reload credentials")
		return
	}
	logging.Info("Credentials", "Reloaded OAuth credentials from %s", w.store.Path())
	if w.onReload != nil {
		w.onReload()
	}
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
