package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes and emits every valid
// result on Updates. Invalid edits are logged and skipped.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration
	Updates  chan *Config
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewWatcher watches path. The parent directory is watched so editors that
// replace the file by rename are seen.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	cw := &Watcher{
		path:     filepath.Clean(path),
		watcher:  w,
		log:      logger,
		debounce: 200 * time.Millisecond,
		Updates:  make(chan *Config, 1),
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.processEvents()
	logger.Info("watching config", "path", path)
	return cw, nil
}

// Stop stops the watcher and closes Updates.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
		close(w.Updates)
	})
	return err
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := LoadFile(w.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		w.log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}
	// Keep only the newest pending config.
	select {
	case <-w.Updates:
	default:
	}
	select {
	case w.Updates <- cfg:
		w.log.Info("config reloaded", "path", w.path)
	case <-w.done:
	}
}
