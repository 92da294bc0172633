// Package tools defines the Tool contract, the factory table that builds tool
// instances from persisted configuration, and the [Registry] that owns the
// live, enableable set of tools.
//
// Tools are resolved exclusively through a [Factories] table populated at
// startup. A persisted record naming a factory key that is not in the table
// is rejected; nothing is ever resolved dynamically at runtime.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownFactory is returned when a record names a factory key that is
	// not in the factory table.
	ErrUnknownFactory = errors.New("tools: unknown factory")

	// ErrNotRegistered is returned by operations on a tool name that has no
	// registration.
	ErrNotRegistered = errors.New("tools: tool not registered")
)

// Tool is a named handler that turns free text into a text result. It may
// perform external I/O and must honour ctx cancellation.
//
// Run reports failures as errors; converting them to user-facing text is the
// caller's job.
type Tool interface {
	Run(ctx context.Context, query string) (string, error)
}

// Enabler is implemented by tools that need to react when the registry
// enables or disables them (for example to pause a background poller).
type Enabler interface {
	Enable() error
	Disable() error
}

// Factory builds a Tool from its merged settings.
type Factory func(ctx context.Context, settings Settings) (Tool, error)

// Spec is the persisted form of one tool registration.
type Spec struct {
	// Name is the unique name the tool is addressed by.
	Name string `json:"name" yaml:"name"`

	// Factory is the key into the factory table.
	Factory string `json:"factory_key,omitempty" yaml:"factory_key,omitempty"`

	// ClassPath is the legacy dotted identifier some stored records carry
	// instead of a factory key. It is only honoured when an alias for it was
	// registered on the [Factories] table.
	ClassPath string `json:"class_path,omitempty" yaml:"class_path,omitempty"`

	// Enabled reports whether the tool is active after loading. A record
	// that omits the field is enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Config is the free-form tool configuration. It is layered over the
	// per-factory defaults from the server config.
	Config Settings `json:"config,omitempty" yaml:"config,omitempty"`
}

// specWire mirrors Spec with a nullable Enabled so decoding can tell an
// omitted field from an explicit false.
type specWire struct {
	Name      string   `json:"name" yaml:"name"`
	Factory   string   `json:"factory_key" yaml:"factory_key"`
	ClassPath string   `json:"class_path" yaml:"class_path"`
	Enabled   *bool    `json:"enabled" yaml:"enabled"`
	Config    Settings `json:"config" yaml:"config"`
}

func (w specWire) spec() Spec {
	s := Spec{Name: w.Name, Factory: w.Factory, ClassPath: w.ClassPath, Enabled: true, Config: w.Config}
	if w.Enabled != nil {
		s.Enabled = *w.Enabled
	}
	if s.Config == nil {
		s.Config = Settings{}
	}
	return s
}

// UnmarshalJSON implements [json.Unmarshaler].
func (s *Spec) UnmarshalJSON(data []byte) error {
	var w specWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*s = w.spec()
	return nil
}

// UnmarshalYAML implements [yaml.Unmarshaler].
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	var w specWire
	if err := node.Decode(&w); err != nil {
		return err
	}
	*s = w.spec()
	return nil
}

// Key returns the factory key to resolve, preferring Factory over ClassPath.
func (s Spec) Key() string {
	if s.Factory != "" {
		return s.Factory
	}
	return s.ClassPath
}

// Validate checks the fields every record must carry.
func (s Spec) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if s.Key() == "" {
		errs = append(errs, errors.New("factory_key or class_path is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("tools: invalid spec %q: %w", s.Name, err)
	}
	return nil
}

// Descriptor describes one registration for administrative listing.
type Descriptor struct {
	Name    string   `json:"name"`
	Factory string   `json:"factory_key"`
	Enabled bool     `json:"enabled"`
	Config  Settings `json:"config"`
}

// Settings is a free-form configuration map with typed accessors.
type Settings map[string]any

// Merge returns a new Settings with s overlaid by over.
func (s Settings) Merge(over Settings) Settings {
	out := make(Settings, len(s)+len(over))
	for k, v := range s {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// String returns the string at key or def.
func (s Settings) String(key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Int returns the integer at key or def. Numbers decoded from JSON arrive as
// float64 and are truncated.
func (s Settings) Int(key string, def int) int {
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns the number at key or def.
func (s Settings) Float(key string, def float64) float64 {
	switch v := s[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Bool returns the boolean at key or def.
func (s Settings) Bool(key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// Duration returns the duration at key or def. Strings are parsed with
// [time.ParseDuration]; bare numbers are seconds.
func (s Settings) Duration(key string, def time.Duration) time.Duration {
	switch v := s[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	}
	return def
}

// Strings returns the string list at key or def.
func (s Settings) Strings(key string, def []string) []string {
	switch v := s[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return def
}

// StringMap returns the string→string map at key or def.
func (s Settings) StringMap(key string, def map[string]string) map[string]string {
	switch v := s[key].(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, e := range v {
			if str, ok := e.(string); ok {
				out[k] = str
			}
		}
		return out
	}
	return def
}

// DefaultSpecs returns the built-in tool set used when the persisted
// configuration cannot be loaded: every default tool, enabled, with empty
// config.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "weather_tool", Factory: "weather", Enabled: true, Config: Settings{}},
		{Name: "calendar_tool", Factory: "calendar", Enabled: true, Config: Settings{}},
		{Name: "file_tool", Factory: "files", Enabled: true, Config: Settings{}},
		{Name: "music_tool", Factory: "music", Enabled: true, Config: Settings{}},
		{Name: "system_tool", Factory: "system", Enabled: true, Config: Settings{}},
		{Name: "calculator_tool", Factory: "calculator", Enabled: true, Config: Settings{}},
	}
}
