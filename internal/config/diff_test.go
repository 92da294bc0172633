package config_test

import (
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/parla/internal/config"
)

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	a := mustLoad(t, sampleYAML)
	b := mustLoad(t, sampleYAML)

	if d := config.Diff(a, b); !d.Empty() {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LiveChanges(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	cur := mustLoad(t, sampleYAML)
	cur.Server.LogLevel = config.LogWarn
	cur.Tools.Timeout = 20 * time.Second

	d := config.Diff(old, cur)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogWarn {
		t.Errorf("log level: %+v", d)
	}
	if !d.ToolTimeoutChanged || d.NewToolTimeout != 20*time.Second {
		t.Errorf("tool timeout: %+v", d)
	}
	if d.ToolsChanged {
		t.Error("tools should be unchanged")
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("log level and timeout are live, got restart %v", d.RestartRequired)
	}
}

func TestDiff_ToolSettingsAreLive(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	cur := mustLoad(t, sampleYAML)
	cur.Tools.Settings = map[string]map[string]any{"weather": {"default_city": "上海"}}

	d := config.Diff(old, cur)
	if !d.ToolsChanged {
		t.Errorf("ToolsChanged not set: %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("settings are live, got restart %v", d.RestartRequired)
	}
}

func TestDiff_ToolStoreNeedsRestart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"path", func(c *config.Config) { c.Tools.ConfigPath = "other.json" }},
		{"store", func(c *config.Config) { c.Tools.Store = config.StorePostgres }},
		{"dsn", func(c *config.Config) { c.Tools.PostgresDSN = "postgres://db/parla" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old := mustLoad(t, sampleYAML)
			cur := mustLoad(t, sampleYAML)
			tt.mutate(cur)
			d := config.Diff(old, cur)
			if d.ToolsChanged {
				t.Error("store location change reported as live settings change")
			}
			if !slices.Contains(d.RestartRequired, "tools") {
				t.Errorf("RestartRequired = %v, want tools", d.RestartRequired)
			}
		})
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	old := mustLoad(t, sampleYAML)
	cur := mustLoad(t, sampleYAML)
	cur.Server.ListenAddr = ":9999"
	cur.Providers.LLM.Model = "qwen2.5"
	cur.Audio.BufferDuration = 3

	got := config.Diff(old, cur).RestartRequired
	for _, want := range []string{"server", "providers", "audio"} {
		if !slices.Contains(got, want) {
			t.Errorf("RestartRequired = %v, missing %q", got, want)
		}
	}
	if slices.Contains(got, "history") {
		t.Errorf("history reported changed: %v", got)
	}
}
