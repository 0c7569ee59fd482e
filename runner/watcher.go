// Package runner supplements the sync engine with a continuous-run
// mode: watching filesystem storages for changes and debouncing them
// into sync triggers, plus coordinated shutdown of an in-flight run.
package runner

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// DefaultDebounceDuration is the debounce window for batching rapid
	// changes into one trigger.
	DefaultDebounceDuration = 1 * time.Second

	// DefaultQuietPeriod is how long a path must go unmodified before a
	// pending trigger actually fires, so a sync doesn't run mid-edit.
	DefaultQuietPeriod = 2 * time.Second
)

// WatchConfig configures a Watcher.
type WatchConfig struct {
	Paths            []string
	DebounceDuration time.Duration
	QuietPeriod      time.Duration
	OnTrigger        func()
}

// DefaultWatchConfig returns a WatchConfig with sensible defaults for
// the given paths and trigger callback.
func DefaultWatchConfig(paths []string, onTrigger func()) *WatchConfig {
	return &WatchConfig{
		Paths:            paths,
		DebounceDuration: DefaultDebounceDuration,
		QuietPeriod:      DefaultQuietPeriod,
		OnTrigger:        onTrigger,
	}
}

// Watcher watches filesystem-storage directories and invokes a
// caller-supplied trigger (typically wired to syncengine.Run) after
// changes settle. It has no opinion about what the trigger does.
type Watcher struct {
	cfg     *WatchConfig
	fsw     *fsnotify.Watcher
	stopCh  chan struct{}
	stopped bool
	mu      sync.Mutex
}

// Watch creates and starts a Watcher over cfg.Paths.
func Watch(cfg *WatchConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	w := &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		stopCh: make(chan struct{}),
	}
	if err := w.start(); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) start() error {
	for _, path := range w.cfg.Paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watching path %q: %w", path, err)
		}
	}
	go w.eventLoop()
	return nil
}

// Stop stops the watcher and releases its underlying resources. Safe
// to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopCh)
	_ = w.fsw.Close()
}

func (w *Watcher) eventLoop() {
	var debounceTimer, quietTimer *time.Timer
	debounceCh := make(chan struct{}, 1)
	quietCh := make(chan struct{}, 1)
	pendingTrigger := false

	resetDebounce := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(w.cfg.DebounceDuration, func() {
			select {
			case debounceCh <- struct{}{}:
			default:
			}
		})
	}

	resetQuiet := func() {
		if quietTimer != nil {
			quietTimer.Stop()
		}
		if w.cfg.QuietPeriod > 0 {
			quietTimer = time.AfterFunc(w.cfg.QuietPeriod, func() {
				select {
				case quietCh <- struct{}{}:
				default:
				}
			})
		}
	}

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			if quietTimer != nil {
				quietTimer.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if w.cfg.QuietPeriod > 0 {
				pendingTrigger = true
				resetQuiet()
			} else {
				resetDebounce()
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}

		case <-debounceCh:
			if w.cfg.OnTrigger != nil {
				w.cfg.OnTrigger()
			}

		case <-quietCh:
			if pendingTrigger && w.cfg.OnTrigger != nil {
				w.cfg.OnTrigger()
				pendingTrigger = false
			}
		}
	}
}
