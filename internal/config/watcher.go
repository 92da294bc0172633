package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] polls without [WithInterval].
const DefaultWatchInterval = 5 * time.Second

// Watcher keeps the last valid config loaded from a file and reports
// changes to it. Edits that do not load or validate are logged and leave the
// current config in place.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	// reloadMu serialises reloads so onChange calls never overlap.
	reloadMu sync.Mutex
	snap     atomic.Pointer[snapshot]
}

// snapshot is one successfully loaded version of the file.
type snapshot struct {
	cfg   *Config
	sum   [sha256.Size]byte
	mtime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a Watcher holding it. onChange may be
// nil. Nothing is polled until [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	s, err := readSnapshot(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.snap.Store(s)
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	return w.snap.Load().cfg
}

// Run polls the file until ctx is done and returns nil then.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.poll()
		}
	}
}

// Reload re-reads the file regardless of its modification time. It reports
// whether the content changed; onChange has run by the time it returns.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	return w.reloadLocked()
}

func (w *Watcher) poll() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.snap.Load().mtime) {
		return
	}

	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()
	if _, err := w.reloadLocked(); err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
	}
}

// reloadLocked swaps in the file's current content. Caller holds reloadMu.
func (w *Watcher) reloadLocked() (bool, error) {
	next, err := readSnapshot(w.path)
	if err != nil {
		return false, err
	}
	prev := w.snap.Load()
	if next.sum == prev.sum {
		// Touched without edits: remember the mtime so polling goes quiet.
		w.snap.Store(&snapshot{cfg: prev.cfg, sum: prev.sum, mtime: next.mtime})
		return false, nil
	}
	w.snap.Store(next)
	slog.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev.cfg, next.cfg)
	}
	return true, nil
}

func readSnapshot(path string) (*snapshot, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	return &snapshot{cfg: cfg, sum: sha256.Sum256(data), mtime: info.ModTime()}, nil
}
