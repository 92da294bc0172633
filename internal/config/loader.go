package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"ollama", "openai", "openai-compatible", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"whisper", "whisper-native"},
	"tts": {"coqui"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if p := cfg.Server.WebsocketPath; p != "" && !strings.HasPrefix(p, "/") {
		errs = append(errs, fmt.Errorf("server.websocket_path %q must start with /", p))
	}
	if cfg.Server.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.idle_timeout must not be negative"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, fmt.Errorf("server.tls requires both cert_file and key_file"))
	}

	// Audio
	a := cfg.Audio
	if a.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", a.SampleRate))
	}
	if a.BufferDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_duration %.2f must be positive", a.BufferDuration))
	}
	if a.TailDuration >= a.BufferDuration && a.BufferDuration > 0 {
		errs = append(errs, fmt.Errorf("audio.tail_duration %.2f must be shorter than buffer_duration %.2f", a.TailDuration, a.BufferDuration))
	}
	if a.MaxSilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("audio.max_silence_duration must not be negative"))
	}

	// Providers
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, fmt.Errorf("providers.llm_fallbacks requires providers.llm"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; audio sessions will only produce fallback replies")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("providers.llm is not configured; requests without a matching tool get a fallback reply")
	}

	// Workflow
	if cfg.Workflow.CompletionTimeout < 0 {
		errs = append(errs, fmt.Errorf("workflow.completion_timeout must not be negative"))
	}

	// Tools
	switch cfg.Tools.Store {
	case StoreFile:
		if ext := strings.ToLower(filepath.Ext(cfg.Tools.ConfigPath)); ext != ".json" && ext != ".yaml" && ext != ".yml" {
			errs = append(errs, fmt.Errorf("tools.config_path %q must end in .json, .yaml or .yml", cfg.Tools.ConfigPath))
		}
	case StorePostgres:
		if cfg.Tools.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("tools.postgres_dsn is required when tools.store is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("tools.store %q is invalid; valid values: file, postgres", cfg.Tools.Store))
	}
	if cfg.Tools.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.timeout must not be negative"))
	}

	// History
	switch cfg.History.Backend {
	case StoreNone, StoreFile:
	case StorePostgres:
		if cfg.History.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("history.postgres_dsn is required when history.backend is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("history.backend %q is invalid; valid values: none, file, postgres", cfg.History.Backend))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
