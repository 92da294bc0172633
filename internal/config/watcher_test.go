package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/parla/internal/config"
)

const (
	baseYAML    = "server:\n  log_level: info\ntools:\n  timeout: 10s\n"
	editedYAML  = "server:\n  log_level: debug\ntools:\n  timeout: 3s\n"
	brokenYAML  = "server:\n  log_level: bananas\n"
	watchPeriod = 10 * time.Millisecond
)

// changeLog collects onChange calls.
type changeLog struct {
	calls chan [2]*config.Config
}

func newChangeLog() *changeLog {
	return &changeLog{calls: make(chan [2]*config.Config, 8)}
}

func (l *changeLog) record(old, new *config.Config) { l.calls <- [2]*config.Config{old, new} }

func (l *changeLog) count() int { return len(l.calls) }

func watchFile(t *testing.T, content string, l *changeLog) (string, *config.Watcher) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "parla.yaml")
	rewrite(t, path, content)
	var cb func(old, new *config.Config)
	if l != nil {
		cb = l.record
	}
	w, err := config.NewWatcher(path, cb, config.WithInterval(watchPeriod))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return path, w
}

// rewrite replaces the file and pushes its mtime forward so coarse
// filesystem clocks still see a change.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	bump(t, path)
}

func bump(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	next := info.ModTime().Add(time.Second)
	if err := os.Chtimes(path, next, next); err != nil {
		t.Fatal(err)
	}
}

func TestWatcher_NewLoadsFile(t *testing.T) {
	t.Parallel()
	_, w := watchFile(t, baseYAML, nil)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q, want %q", got, config.LogInfo)
	}
}

func TestWatcher_NewFailsOnMissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_ReloadReportsChange(t *testing.T) {
	t.Parallel()
	l := newChangeLog()
	path, w := watchFile(t, baseYAML, l)

	rewrite(t, path, editedYAML)
	changed, err := w.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want true, nil", changed, err)
	}
	if l.count() != 1 {
		t.Fatalf("onChange calls = %d, want 1", l.count())
	}
	pair := <-l.calls
	d := config.Diff(pair[0], pair[1])
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level diff = %+v", d)
	}
	if !d.ToolTimeoutChanged || d.NewToolTimeout != 3*time.Second {
		t.Errorf("tool timeout diff = %+v", d)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log_level = %q", got)
	}
}

func TestWatcher_ReloadKeepsLastGoodConfig(t *testing.T) {
	t.Parallel()
	l := newChangeLog()
	path, w := watchFile(t, baseYAML, l)

	rewrite(t, path, brokenYAML)
	if _, err := w.Reload(); err == nil {
		t.Fatal("expected validation error")
	}
	if l.count() != 0 {
		t.Errorf("onChange calls = %d, want 0", l.count())
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current log_level = %q, want %q", got, config.LogInfo)
	}
}

func TestWatcher_TouchIsNotAChange(t *testing.T) {
	t.Parallel()
	l := newChangeLog()
	path, w := watchFile(t, baseYAML, l)

	bump(t, path)
	changed, err := w.Reload()
	if err != nil || changed {
		t.Errorf("Reload = %v, %v; want false, nil", changed, err)
	}
	if l.count() != 0 {
		t.Errorf("onChange calls = %d, want 0", l.count())
	}
}

func TestWatcher_RunPicksUpEdits(t *testing.T) {
	t.Parallel()
	l := newChangeLog()
	path, w := watchFile(t, baseYAML, l)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	rewrite(t, path, editedYAML)
	select {
	case pair := <-l.calls:
		if pair[1].Tools.Timeout != 3*time.Second {
			t.Errorf("new tool timeout = %v", pair[1].Tools.Timeout)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("edit not picked up")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
