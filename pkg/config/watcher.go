package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads system.json when it changes on disk and delivers the fresh
// SystemConfig to a callback. Editors often emit bursts of write events for a
// single save, so reloads are debounced.
type Watcher struct {
	path     string
	onReload func(*SystemConfig)
	debounce time.Duration
}

// NewWatcher builds a watcher for the given system config path.
func NewWatcher(path string, onReload func(*SystemConfig)) *Watcher {
	return &Watcher{
		path:     path,
		onReload: onReload,
		debounce: 300 * time.Millisecond,
	}
}

// Run watches until the context is cancelled. The parent directory is watched
// rather than the file itself so atomic rename-saves keep working.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dir := filepath.Dir(w.path)
	if err := fw.Add(dir); err != nil {
		return err
	}

	target := filepath.Clean(w.path)
	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			slog.Info("system config changed, reloading", "path", w.path)
			w.onReload(LoadSystemConfig(w.path))

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "err", err)
		}
	}
}
