package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	appLog "inkcal/internal/log"
)

// Watch reloads the config at path whenever it is written or replaced and
// passes the result to onChange. The parent directory is watched because
// Save (and most editors) replace the file via rename. Watch blocks until
// ctx is done.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			// A rename away from path must not trigger Load, which would
			// write a fresh default file.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := Load(abs)
			if err != nil {
				appLog.Error("config reload failed", err, "path", abs)
				continue
			}
			appLog.Info("config reloaded", "path", abs)
			onChange(cfg)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Error("config watcher error", err, "path", abs)
		}
	}
}
