package app

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/parla/internal/config"
	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/resilience"
	"github.com/MrWong99/parla/pkg/provider/llm"
	"github.com/MrWong99/parla/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/parla/pkg/provider/llm/openai"
	"github.com/MrWong99/parla/pkg/provider/stt"
	"github.com/MrWong99/parla/pkg/provider/stt/whisper"
	"github.com/MrWong99/parla/pkg/provider/tts"
	"github.com/MrWong99/parla/pkg/provider/tts/coqui"
)

// Providers holds one interface value per provider slot. Nil means the slot
// is not configured.
type Providers struct {
	STT stt.Transcriber
	TTS tts.Synthesizer
	LLM llm.Provider
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
func RegisterBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// Hosted backends share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// Any server speaking the OpenAI chat completions API (vLLM, LM Studio, ...).
	reg.RegisterLLM("openai-compatible", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, coqui.WithVoice(voice))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})
}

// BuildProviders instantiates the providers named in cfg and wraps each in a
// circuit breaker. Configured LLM fallbacks are tried in order after the
// primary. A provider whose name is not registered is skipped with a
// warning; a registered provider failing to build is an error.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	fbCfg := resilience.FallbackConfig{CircuitBreaker: breakerConfig(cfg.Providers.Breaker, m)}
	ps := &Providers{}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not available, skipping", "kind", "stt", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("app: create stt provider %q: %w", entry.Name, err)
		default:
			ps.STT = resilience.NewTranscriberFallback(p, "stt/"+entry.Name, fbCfg)
			slog.Info("provider created", "kind", "stt", "name", entry.Name)
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, err := reg.CreateTTS(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not available, skipping", "kind", "tts", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("app: create tts provider %q: %w", entry.Name, err)
		default:
			ps.TTS = resilience.NewSynthesizerFallback(p, "tts/"+entry.Name, fbCfg)
			slog.Info("provider created", "kind", "tts", "name", entry.Name)
		}
	}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		switch {
		case errors.Is(err, config.ErrProviderNotRegistered):
			slog.Warn("provider not available, skipping", "kind", "llm", "name", entry.Name)
		case err != nil:
			return nil, fmt.Errorf("app: create llm provider %q: %w", entry.Name, err)
		default:
			group := resilience.NewLLMFallback(p, "llm/"+entry.Name, fbCfg)
			for i, fb := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(fb)
				if err != nil {
					return nil, fmt.Errorf("app: create llm fallback %d %q: %w", i, fb.Name, err)
				}
				group.AddFallback(fmt.Sprintf("llm/%s#%d", fb.Name, i+1), fp)
			}
			ps.LLM = group
			slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallbacks", len(cfg.Providers.LLMFallbacks))
		}
	}

	return ps, nil
}

func breakerConfig(b config.BreakerConfig, m *observe.Metrics) resilience.CircuitBreakerConfig {
	cb := resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		HalfOpenMax:  b.HalfOpenMax,
	}
	if m != nil {
		cb.OnStateChange = func(name string, _, to resilience.State) {
			m.RecordBreakerTransition(name, to.String())
		}
	}
	return cb
}

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
