package config

import (
	"reflect"
	"time"
)

// ConfigDiff describes what changed between two configs. Fields that can be
// applied live are reported individually; everything else is collected in
// RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ToolTimeoutChanged bool
	NewToolTimeout     time.Duration

	// ToolsChanged is set when the per-factory tool settings changed; the
	// registry must be reloaded to rebuild its instances.
	ToolsChanged bool

	// RestartRequired names the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.ToolTimeoutChanged && !d.ToolsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Tools.Timeout != new.Tools.Timeout {
		d.ToolTimeoutChanged = true
		d.NewToolTimeout = new.Tools.Timeout
	}
	if !reflect.DeepEqual(old.Tools.Settings, new.Tools.Settings) {
		d.ToolsChanged = true
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	restart := []struct {
		section string
		changed bool
	}{
		{"server", !reflect.DeepEqual(oldServer, newServer)},
		{"audio", old.Audio != new.Audio},
		{"providers", !reflect.DeepEqual(old.Providers, new.Providers)},
		{"workflow", old.Workflow != new.Workflow},
		{"tools", old.Tools.ConfigPath != new.Tools.ConfigPath ||
			old.Tools.Store != new.Tools.Store ||
			old.Tools.PostgresDSN != new.Tools.PostgresDSN},
		{"history", old.History != new.History},
		{"observe", !reflect.DeepEqual(old.Observe, new.Observe)},
	}
	for _, r := range restart {
		if r.changed {
			d.RestartRequired = append(d.RestartRequired, r.section)
		}
	}
	return d
}
