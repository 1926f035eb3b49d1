package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/alasbuild/testforge/pkg/log"
)

// Watcher reloads a Config from disk whenever its source file changes.
// No pipeline stage requires hot reload; it exists for operators who want
// to rotate broker credentials or adjust supported_runners without a
// restart.
type Watcher struct {
	path string
	cur  atomic.Pointer[Config]

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch loads path once, then starts watching it for writes. Callers read
// the live value with Current; the returned Watcher must be closed with
// Stop when no longer needed.
func Watch(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, done: make(chan struct{})}
	w.cur.Store(cfg)

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	return w.cur.Load()
}

// Stop halts the watch goroutine and releases the underlying fsnotify handle.
func (w *Watcher) Stop() {
	close(w.done)
	w.watcher.Close()
}

func (w *Watcher) loop() {
	wlog := log.WithComponent("config")
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				wlog.Warn().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous value")
				continue
			}
			w.cur.Store(cfg)
			wlog.Info().Str("path", w.path).Msg("config reloaded")
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			wlog.Warn().Err(err).Msg("config watcher error")
		}
	}
}
