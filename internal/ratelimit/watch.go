package ratelimit

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/runicorn/runicorn/internal/config"
)

// WatchConfig watches path's parent directory (not the file itself —
// editors and deploy tooling often replace a config file via rename,
// which does not fire an event on a watch of the file directly) and
// reloads the Limiter's configuration whenever path changes. The watch
// runs in its own goroutine until done is closed; WatchConfig itself
// returns as soon as the watch is set up.
func (l *Limiter) WatchConfig(path string, done <-chan struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := config.LoadRateLimitConfig(path)
				if err != nil {
					l.log.Warn("rate limit config reload failed", zap.Error(err))
					continue
				}
				l.SetConfig(cfg)
				l.log.Info("rate limit config reloaded", zap.String("path", path))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.log.Warn("rate limit config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
