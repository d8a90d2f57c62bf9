package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watch watches path and, on every write or create event, calls Load (which
// re-reads the file named by CONFIG_FILE and the environment) and invokes
// onReload with the new Config. A reload that fails validation is logged and
// discarded; the last-good Config stays live. Watch returns immediately if
// path is empty.
func Watch(path string, log zerolog.Logger, onReload func(Config)) (*fsnotify.Watcher, error) {
	if path == "" {
		return nil, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := Load()
				if err != nil {
					log.Warn().Err(err).Str("path", path).Msg("config reload rejected")
					continue
				}
				log.Info().Str("path", path).Msg("config reloaded")
				onReload(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("config watch error")
			}
		}
	}()

	return watcher, nil
}
