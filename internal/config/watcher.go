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

const defaultPollInterval = 5 * time.Second

// stamp identifies one observed version of the config file.
type stamp struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher polls a config file and hands every valid new version to a
// callback. A file that fails to parse or validate is logged and skipped;
// [Watcher.Current] keeps returning the last good config.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu   sync.Mutex
	cfg  *Config
	seen stamp
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval overrides the 5 second poll interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher returns a watcher for path. current is the running config; nil
// loads it from path. Reloaded files without a device.client_id inherit the
// one in use.
func NewWatcher(path string, current *Config, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: defaultPollInterval, onChange: onChange, cfg: current}
	for _, opt := range opts {
		opt(w)
	}

	data, st, err := w.snapshot()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.seen = st
	if w.cfg == nil {
		if w.cfg, err = w.decode(data, nil); err != nil {
			return nil, fmt.Errorf("config: watch %s: %w", path, err)
		}
	}
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

// Run polls until ctx is cancelled and then returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if old, cfg := w.poll(); cfg != nil && w.onChange != nil {
				w.onChange(old, cfg)
			}
		}
	}
}

// poll returns the previous and new config when the file changed to a
// valid configuration, and nil otherwise.
func (w *Watcher) poll() (old, cfg *Config) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "err", err)
		return nil, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if info.ModTime().Equal(w.seen.modTime) {
		return nil, nil
	}

	data, st, err := w.snapshot()
	if err != nil {
		slog.Warn("config: read failed", "path", w.path, "err", err)
		return nil, nil
	}
	prev := w.seen
	w.seen.modTime = st.modTime
	if st.sum == prev.sum {
		return nil, nil
	}

	next, err := w.decode(data, w.cfg)
	if err != nil {
		slog.Warn("config: keeping previous configuration", "path", w.path, "err", err)
		return nil, nil
	}
	w.seen = st
	old, w.cfg = w.cfg, next
	slog.Info("config: reloaded", "path", w.path)
	return old, next
}

func (w *Watcher) snapshot() ([]byte, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	return data, stamp{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

func (w *Watcher) decode(data []byte, running *Config) (*Config, error) {
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Device.ClientID == "" && running != nil {
		cfg.Device.ClientID = running.Device.ClientID
	}
	return cfg, nil
}
