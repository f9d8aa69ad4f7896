package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file for modification-time changes and reloads
// it, notifying registered listeners with the fresh Config.
type Watcher struct {
	path     string
	interval time.Duration

	mu        sync.RWMutex
	current   *Config
	modTime   time.Time
	listeners []func(*Config)

	stopCh chan struct{}
	doneCh chan struct{}
	logger *slog.Logger
}

// NewWatcher loads the file once and returns a watcher ready to Start.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger) (*Watcher, error) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}

	w := &Watcher{
		path:     path,
		interval: interval,
		current:  cfg,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		logger:   logger,
	}
	if info, err := os.Stat(path); err == nil {
		w.modTime = info.ModTime()
	}
	return w, nil
}

// OnChange registers a listener invoked after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Start begins polling until Stop is called or ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.watch(ctx)
}

// Stop halts polling and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *Watcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config file stat failed", "path", w.path, "error", err)
		return
	}

	w.mu.RLock()
	changed := info.ModTime().After(w.modTime)
	w.mu.RUnlock()
	if !changed {
		return
	}

	w.reload(info.ModTime())
}

func (w *Watcher) reload(modTime time.Time) {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping previous", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.modTime = modTime
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", "path", w.path)
	for _, fn := range listeners {
		fn(cfg)
	}
}
