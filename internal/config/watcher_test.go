package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/glyphoxa-edge/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
protocol:
  url: ws://localhost:8000/
`

const watcherUpdatedYAML = `
server:
  log_level: debug
protocol:
  url: ws://localhost:8000/
`

const watcherInvalidYAML = `
server:
  log_level: bananas
protocol:
  url: ws://localhost:8000/
`

// writeFile writes content and bumps the mtime so every write is visible to
// the watcher regardless of filesystem timestamp granularity.
func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to set mtime on %q: %v", path, err)
	}
}

// startWatcher runs w until the test ends.
func startWatcher(t *testing.T, w *config.Watcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

var baseTime = time.Unix(1_700_000_000, 0)

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML, baseTime)

	w, err := config.NewWatcher(cfgPath, nil, nil, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML, baseTime)

	initial, err := config.Load(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	config.EnsureClientID(initial)

	var mu sync.Mutex
	var gotOld, gotNew *config.Config
	called := make(chan struct{}, 1)
	w, err := config.NewWatcher(cfgPath, initial, func(old, new *config.Config) {
		mu.Lock()
		gotOld, gotNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	startWatcher(t, w)

	writeFile(t, cfgPath, watcherUpdatedYAML, baseTime.Add(time.Second))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld != initial {
		t.Error("callback old config is not the starting config")
	}
	if gotNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q, want %q", gotNew.Server.LogLevel, config.LogDebug)
	}
	if gotNew.Device.ClientID != initial.Device.ClientID {
		t.Errorf("client_id not carried over: %q vs %q", gotNew.Device.ClientID, initial.Device.ClientID)
	}
	if d := config.Diff(gotOld, gotNew); !d.LogLevelChanged || len(d.RestartRequired) != 0 {
		t.Errorf("Diff = %+v, want log level change only", d)
	}
	if cur := w.Current(); cur.Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q, want %q", cur.Server.LogLevel, config.LogDebug)
	}
}

func TestWatcher_IgnoredChanges(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
	}{
		{"invalid config", watcherInvalidYAML},
		{"touch without content change", watcherValidYAML},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfgPath := filepath.Join(t.TempDir(), "config.yaml")
			writeFile(t, cfgPath, watcherValidYAML, baseTime)

			var mu sync.Mutex
			calls := 0
			w, err := config.NewWatcher(cfgPath, nil, func(_, _ *config.Config) {
				mu.Lock()
				calls++
				mu.Unlock()
			}, config.WithInterval(20*time.Millisecond))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			startWatcher(t, w)

			writeFile(t, cfgPath, tc.content, baseTime.Add(time.Second))
			time.Sleep(200 * time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			if calls != 0 {
				t.Errorf("callback fired %d times, want 0", calls)
			}
			if cur := w.Current(); cur.Server.LogLevel != config.LogInfo {
				t.Errorf("Current() log_level = %q, want the original", cur.Server.LogLevel)
			}
		})
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil, nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}
