package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a single config file path and enqueues a reload request
// on write. The teacher uses fsnotify to watch an entire sync tree for
// local file changes; here it is repurposed to watch the one file that
// actually needs watching — the config file — implementing spec §5's
// "config changes arriving mid-sync stop the worker, persist the new
// config, then restart" contract.
type Watcher struct {
	watcher *fsnotify.Watcher
	path    string
	logger  *slog.Logger
	reload  chan struct{}
}

// NewWatcher starts watching path's parent directory (watching the
// directory, not the file, survives editors that replace-on-save rather
// than write-in-place).
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	return &Watcher{watcher: w, path: path, logger: logger, reload: make(chan struct{}, 1)}, nil
}

// Reload returns a channel that receives a value whenever the watched
// config file has been written. The channel is buffered with capacity 1 —
// bursts of writes (e.g. an editor's temp-file-then-rename save) collapse
// into a single pending reload.
func (w *Watcher) Reload() <-chan struct{} {
	return w.reload
}

// Run pumps fsnotify events into Reload() until ctx is canceled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if ev.Name != w.path {
				continue
			}

			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			select {
			case w.reload <- struct{}{}:
			default:
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}

			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
