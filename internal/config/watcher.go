package config

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a config file whenever it changes on disk, re-running
// Load against the same Applier every time so bind-key/set-option/etc.
// directives stay in sync with an edited config without a server restart.
type Watcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchFile starts watching path (its containing directory, since editors
// commonly replace a file via rename rather than in-place write) and calls
// Load(path, applier) on every write/create/rename event that targets it.
func WatchFile(path string, applier Applier) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{watcher: fsw, done: make(chan struct{})}
	target := filepath.Clean(path)

	go func() {
		defer close(w.done)
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := Load(path, applier); err != nil {
					slog.Warn("[WARN-CONFIG] reload failed", "path", path, "error", err)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				slog.Warn("[WARN-CONFIG] watch error", "path", path, "error", err)
			}
		}
	}()

	return w, nil
}

// Close stops watching and waits for the event loop goroutine to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
