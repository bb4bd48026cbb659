// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file when its content changes. File system
// notifications trigger a debounced check and a ticker covers mounts where
// notifications never arrive. Listeners only see reloads that change at
// least one section.
type Watcher struct {
	path      string
	overrides []string
	interval  time.Duration
	logger    *slog.Logger

	mu        sync.RWMutex
	config    *Config
	digest    [sha256.Size]byte
	listeners []Listener

	started  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// Listener receives the previous and the reloaded configuration.
type Listener func(old, updated *Config)

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithWatchInterval sets the polling period, also used as debounce delay.
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithOverrides re-applies key=value overrides on every reload.
func WithOverrides(overrides []string) WatcherOption {
	return func(w *Watcher) {
		w.overrides = append([]string(nil), overrides...)
	}
}

// NewWatcher loads the configuration at path and prepares to watch it.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: time.Second,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	cfg, err := LoadWithOverrides(w.path, w.overrides)
	if err != nil {
		return nil, err
	}
	w.config = cfg
	w.digest, _ = fileDigest(w.path)
	return w, nil
}

// OnChange registers a callback invoked with the previous and the new config.
func (w *Watcher) OnChange(fn Listener) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start watches in the background until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	if w.started.CompareAndSwap(false, true) {
		go w.run(ctx)
	}
}

// Stop ends the watch loop and waits for it to exit. It is safe to call more
// than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.done
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	events, closeNotify := w.notifications()
	defer closeNotify()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	debounce := time.NewTimer(w.interval)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case name, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if name == w.path {
				debounce.Reset(w.interval)
			}
		case <-debounce.C:
			w.check()
		case <-ticker.C:
			w.check()
		}
	}
}

// notifications forwards fsnotify events for the directory holding the file.
// A nil channel is returned when notifications are unavailable.
func (w *Watcher) notifications() (<-chan string, func()) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Debug("config.watch.polling", slog.String("path", w.path), slog.String("error", err.Error()))
		return nil, func() {}
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		w.logger.Debug("config.watch.polling", slog.String("path", w.path), slog.String("error", err.Error()))
		fw.Close()
		return nil, func() {}
	}
	names := make(chan string)
	quit := make(chan struct{})
	go func() {
		defer close(names)
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				select {
				case names <- filepath.Clean(ev.Name):
				case <-quit:
					return
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Debug("config.watch.error", slog.String("error", err.Error()))
			}
		}
	}()
	return names, func() {
		close(quit)
		fw.Close()
	}
}

// check reloads when the file content differs from the last load.
func (w *Watcher) check() {
	digest, err := fileDigest(w.path)
	if err != nil {
		return
	}
	w.mu.RLock()
	same := digest == w.digest
	w.mu.RUnlock()
	if same {
		return
	}

	cfg, err := LoadWithOverrides(w.path, w.overrides)
	if err != nil {
		w.logger.Error("config.reload.failed", slog.String("path", w.path), slog.String("error", err.Error()))
		return
	}

	w.mu.Lock()
	w.digest = digest
	old := w.config
	changed := ChangedSections(old, cfg)
	if len(changed) == 0 {
		w.mu.Unlock()
		return
	}
	w.config = cfg
	listeners := append([]Listener(nil), w.listeners...)
	w.mu.Unlock()

	w.logger.Info("config.reload", slog.String("path", w.path), slog.Any("changed", changed))
	for _, fn := range listeners {
		fn(old, cfg)
	}
}

func fileDigest(path string) ([sha256.Size]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// ChangedSections lists the top-level sections that differ between a and b.
func ChangedSections(a, b *Config) []string {
	if a == nil || b == nil {
		return nil
	}
	var changed []string
	va, vb := reflect.ValueOf(*a), reflect.ValueOf(*b)
	t := va.Type()
	for i := 0; i < t.NumField(); i++ {
		if !reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			changed = append(changed, t.Field(i).Tag.Get("koanf"))
		}
	}
	return changed
}

// AffectsExecutionContexts reports whether a change requires cached crew
// execution contexts to be rebuilt.
func AffectsExecutionContexts(a, b *Config) bool {
	for _, section := range ChangedSections(a, b) {
		if section == "llm" || section == "directline" {
			return true
		}
	}
	return false
}
