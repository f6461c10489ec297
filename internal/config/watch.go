package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Watch reloads st whenever its config file is written or replaced. The
// containing directory is watched so editors that save by rename are seen.
// Watching stops when ctx is done.
func Watch(ctx context.Context, st *Store, logger *log.Logger) error {
	file := st.File()
	if file == "" {
		return fmt.Errorf("no config file to watch")
	}
	if logger == nil {
		logger = log.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(file), err)
	}

	target := filepath.Clean(file)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				s, err := st.Reload()
				if err != nil {
					logger.Warn("config reload failed", "file", file, "err", err)
					continue
				}
				logger.Info("config reloaded", "file", file, "env_key", s.Curve.Params().EnvKey())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "err", err)
			}
		}
	}()

	return nil
}
