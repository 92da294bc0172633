// Package config provides the configuration schema, loader, and provider
// registry for the parla voice assistant.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/parla/pkg/audio"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// StoreKind selects a persistence backend.
type StoreKind string

const (
	StoreNone     StoreKind = "none"
	StoreFile     StoreKind = "file"
	StorePostgres StoreKind = "postgres"
)

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader], which apply [Config.ApplyDefaults]
// before validating.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Audio     AudioConfig     `yaml:"audio"`
	Providers ProvidersConfig `yaml:"providers"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Tools     ToolsConfig     `yaml:"tools"`
	History   HistoryConfig   `yaml:"history"`
	Observe   ObserveConfig   `yaml:"observe"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving the websocket and HTTP routes.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// WebsocketPath is the route clients connect to. Default "/ws".
	WebsocketPath string `yaml:"websocket_path"`

	// AllowedOrigins lists host patterns accepted for cross-origin websocket
	// upgrades. Same-origin requests are always accepted.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// SendSpeech also sends synthesized audio to clients as a "speech"
	// message after each response.
	SendSpeech bool `yaml:"send_speech"`

	// IdleTimeout closes sessions that received nothing for this long.
	// Zero keeps idle sessions open.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TLS enables HTTPS/WSS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AudioConfig describes the inbound PCM stream and how it is cut into
// utterances. Durations are in seconds.
type AudioConfig struct {
	SampleRate         int     `yaml:"sample_rate"`
	BufferDuration     float64 `yaml:"buffer_duration"`
	TailDuration       float64 `yaml:"tail_duration"`
	ChunkSize          int     `yaml:"chunk_size"`
	SilenceThreshold   float64 `yaml:"silence_threshold"`
	MaxSilenceDuration float64 `yaml:"max_silence_duration"`

	// Language is the recognition hint passed to the transcriber.
	Language string `yaml:"language"`
}

// Segmenter converts the section to the segmenter's configuration.
func (a AudioConfig) Segmenter() audio.SegmenterConfig {
	return audio.SegmenterConfig{
		SampleRate:       a.SampleRate,
		BufferDuration:   seconds(a.BufferDuration),
		TailDuration:     seconds(a.TailDuration),
		SilenceThreshold: a.SilenceThreshold,
		MaxSilence:       seconds(a.MaxSilenceDuration),
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ProvidersConfig selects the speech and completion backends. Each entry
// names a provider registered in the [Registry].
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	TTS ProviderEntry `yaml:"tts"`
	LLM ProviderEntry `yaml:"llm"`

	// LLMFallbacks are tried in order when the primary completion backend
	// fails or its circuit breaker is open.
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`

	// Breaker tunes the circuit breaker wrapped around every provider.
	Breaker BreakerConfig `yaml:"breaker"`
}

// ProviderEntry is the configuration block shared by all provider kinds.
// Name selects the constructor in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// BreakerConfig mirrors the circuit breaker knobs. Zero values select the
// breaker defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// WorkflowConfig tunes the completion fallback path.
type WorkflowConfig struct {
	// SystemPrompt is sent ahead of the user text on completion requests.
	SystemPrompt string `yaml:"system_prompt"`

	// CompletionTimeout bounds one completion call. Default 60s.
	CompletionTimeout time.Duration `yaml:"completion_timeout"`
}

// ToolsConfig configures the tool registry.
type ToolsConfig struct {
	// ConfigPath is the persisted tool record file (.json or .yaml) used by
	// the file store.
	ConfigPath string `yaml:"config_path"`

	// Store selects where tool records live: file or postgres.
	Store StoreKind `yaml:"store"`

	// PostgresDSN is required when Store is postgres.
	PostgresDSN string `yaml:"postgres_dsn"`

	// Timeout bounds one tool call. Default 10s.
	Timeout time.Duration `yaml:"timeout"`

	// Settings holds per-factory defaults, keyed by factory key, that each
	// record's own config is layered over.
	Settings map[string]map[string]any `yaml:"settings"`
}

// HistoryConfig selects the exchange log backend.
type HistoryConfig struct {
	Backend     StoreKind `yaml:"backend"`
	Path        string    `yaml:"path"`
	PostgresDSN string    `yaml:"postgres_dsn"`
}

// ObserveConfig controls metrics and tracing.
type ObserveConfig struct {
	// Metrics serves /metrics when true. Defaults to true when omitted.
	Metrics     *bool  `yaml:"metrics"`
	ServiceName string `yaml:"service_name"`
}

// MetricsEnabled reports whether the metrics endpoint is on.
func (o ObserveConfig) MetricsEnabled() bool {
	return o.Metrics == nil || *o.Metrics
}

// Defaults that [Config.ApplyDefaults] fills in.
const (
	DefaultListenAddr      = ":8765"
	DefaultWebsocketPath   = "/ws"
	DefaultSampleRate      = 16000
	DefaultBufferDuration  = 2.0
	DefaultTailDuration    = 0.5
	DefaultChunkSize       = 1024
	DefaultSilenceLevel    = 500
	DefaultLanguage        = "zh"
	DefaultToolConfigPath  = "tools_config.json"
	DefaultHistoryPath     = "history.jsonl"
	DefaultServiceName     = "parla"
	DefaultToolTimeout     = 10 * time.Second
	DefaultShutdownTimeout = 15 * time.Second
)

// ApplyDefaults fills zero fields in place.
func (c *Config) ApplyDefaults() {
	s := &c.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.WebsocketPath == "" {
		s.WebsocketPath = DefaultWebsocketPath
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}

	a := &c.Audio
	if a.SampleRate == 0 {
		a.SampleRate = DefaultSampleRate
	}
	if a.BufferDuration == 0 {
		a.BufferDuration = DefaultBufferDuration
	}
	if a.TailDuration == 0 {
		a.TailDuration = DefaultTailDuration
	}
	if a.ChunkSize == 0 {
		a.ChunkSize = DefaultChunkSize
	}
	if a.SilenceThreshold == 0 {
		a.SilenceThreshold = DefaultSilenceLevel
	}
	if a.Language == "" {
		a.Language = DefaultLanguage
	}

	t := &c.Tools
	if t.Store == "" {
		t.Store = StoreFile
	}
	if t.ConfigPath == "" {
		t.ConfigPath = DefaultToolConfigPath
	}
	if t.Timeout == 0 {
		t.Timeout = DefaultToolTimeout
	}

	h := &c.History
	if h.Backend == "" {
		h.Backend = StoreFile
	}
	if h.Path == "" {
		h.Path = DefaultHistoryPath
	}

	if c.Observe.ServiceName == "" {
		c.Observe.ServiceName = DefaultServiceName
	}
}
