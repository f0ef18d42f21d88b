package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

const debounceWindow = 300 * time.Millisecond

// Watch reloads the config file when it changes and calls onChange with every
// successfully validated new config. Invalid edits are logged and ignored; the
// running config stays in effect.
//
// Watch blocks until ctx is done. The directory is watched (not the file)
// because editors and config-management tools commonly replace the file via
// rename, which drops a direct file watch.
func Watch(ctx context.Context, path string, log logx.Logger, onChange func(Config)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var debounce *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			// Coalesce editor write bursts into one reload.
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				fire = debounce.C
			} else {
				debounce.Reset(debounceWindow)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", logx.Err(err))
		case <-fire:
			debounce = nil
			fire = nil
			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload rejected", logx.Err(err))
				continue
			}
			log.Info("config reloaded", logx.String("path", path))
			onChange(cfg)
		}
	}
}
