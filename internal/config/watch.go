package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const watchDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands the
// fresh Config to the registered callback. Editors replace files via rename,
// so the parent directory is watched rather than the file itself.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path. onChange runs on the watcher goroutine with
// the newly loaded configuration; rapid write bursts are debounced.
func Watch(path string, onChange func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}

	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(watchDebounce, func() {
					cfg, err := LoadFrom(path)
					if err != nil {
						log.Warn().Err(err).Msg("Config reload failed, keeping previous settings")
						return
					}
					log.Debug().Msg("Config file changed, reloaded")
					onChange(cfg)
				})
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				log.Debug().Err(err).Msg("Config watcher error")
			case <-w.done:
				return
			}
		}
	}()

	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() {
	close(w.done)
	w.watcher.Close()
}
