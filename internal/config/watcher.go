package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the file.
const DefaultWatchInterval = 2 * time.Second

// ChangeFunc receives a reloaded config together with its predecessor.
type ChangeFunc func(old, next *Config, d ConfigDiff)

// fingerprint identifies one version of the file on disk.
type fingerprint struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// Watcher keeps the latest valid version of a config file and reports
// hot-reloadable changes. Edits that fail to parse or validate are logged and
// ignored.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Config
	seen    fingerprint
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval used by [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path once. The file must be valid at this point. Polling
// starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: DefaultWatchInterval, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, fp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, fp
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled and always returns ctx.Err().
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if info, err := os.Stat(w.path); err != nil {
				slog.Warn("config watcher: stat failed", "path", w.path, "err", err)
			} else if !info.ModTime().Equal(w.lastMtime()) {
				w.Reload()
			}
		}
	}
}

// Reload re-reads the file immediately regardless of its modification time
// and reports whether a hot-reloadable change was applied.
func (w *Watcher) Reload() bool {
	cfg, fp, err := w.read()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return false
	}

	w.mu.Lock()
	if fp.sum == w.seen.sum {
		w.seen.mtime = fp.mtime
		w.mu.Unlock()
		return false
	}
	old := w.current
	w.current, w.seen = cfg, fp
	w.mu.Unlock()

	d := Diff(old, cfg)
	if d.Empty() {
		slog.Info("config watcher: edit requires a restart", "path", w.path)
		return false
	}
	slog.Info("config watcher: reloaded", "path", w.path,
		"log_level", d.LogLevelChanged, "providers", d.ProvidersChanged)
	if w.onChange != nil {
		w.onChange(old, cfg, d)
	}
	return true
}

func (w *Watcher) lastMtime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seen.mtime
}

func (w *Watcher) read() (*Config, fingerprint, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fingerprint{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fingerprint{}, err
	}
	return cfg, fingerprint{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
