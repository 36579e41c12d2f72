package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"roughcut/internal/async"
	"roughcut/internal/logging"
)

const defaultWatchDebounce = 750 * time.Millisecond

// Watcher monitors the config file and delivers reloaded configs asynchronously.
// Only hot-reload-safe keys should be consumed from the callback (log level,
// context thresholds); everything else requires a restart.
type Watcher struct {
	path     string
	logger   logging.Logger
	debounce time.Duration
	onReload func(*Config)

	mu       sync.Mutex
	timer    *time.Timer
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewWatcher constructs a watcher for the config path. onReload receives each
// successfully re-parsed config; parse failures are logged and skipped.
func NewWatcher(path string, logger logging.Logger, onReload func(*Config)) (*Watcher, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	if onReload == nil {
		return nil, fmt.Errorf("reload callback required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	return &Watcher{
		path:     filepath.Clean(path),
		logger:   logging.OrNop(logger),
		debounce: defaultWatchDebounce,
		onReload: onReload,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching. Watching the parent directory survives editors that
// replace the file on save.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fsw

	async.Go(w.logger, "config.watch", w.loop)
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := Load(w.path)
		if err != nil {
			w.logger.Warn("config reload skipped: %v", err)
			return
		}
		w.logger.Info("config reloaded from %s", w.path)
		w.onReload(cfg)
	})
}

// Stop terminates watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}
