package cli

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/sanonone/kektorgraph/pkg/config"
)

// watchConfig reloads the log level from path every time the file changes,
// until ctx is done. Other settings need a restart.
func (c *CLI) watchConfig(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors often replace the file, so watch its directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			c.reloadLogLevel(path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher", "error", err)
		}
	}
}

func (c *CLI) reloadLogLevel(path string) {
	cfg, err := config.Load(path)
	if err != nil {
		slog.Warn("config reload rejected, keeping current settings", "path", path, "error", err)
		return
	}
	level, err := c.logLevel(cfg)
	if err != nil {
		slog.Warn("config reload rejected, keeping current settings", "path", path, "error", err)
		return
	}
	if level != c.Logger.GetLevel() {
		c.Logger.SetLevel(level)
		slog.Info("log level changed", "level", level.String())
	}
}
