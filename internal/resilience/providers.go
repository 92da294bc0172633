package resilience

import (
	"context"

	"github.com/MrWong99/parla/pkg/provider/llm"
	"github.com/MrWong99/parla/pkg/provider/stt"
	"github.com/MrWong99/parla/pkg/provider/tts"
)

var (
	_ stt.Transcriber = (*TranscriberFallback)(nil)
	_ tts.Synthesizer = (*SynthesizerFallback)(nil)
	_ llm.Provider    = (*LLMFallback)(nil)
)

// TranscriberFallback is an [stt.Transcriber] that fails over across
// backends.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

// NewTranscriberFallback creates a fallback with primary tried first.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *TranscriberFallback) AddFallback(name string, p stt.Transcriber) {
	f.group.AddFallback(name, p)
}

// Transcribe implements [stt.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p stt.Transcriber) (string, error) {
		return p.Transcribe(ctx, req)
	})
}

// SynthesizerFallback is a [tts.Synthesizer] that fails over across backends.
type SynthesizerFallback struct {
	group *FallbackGroup[tts.Synthesizer]
}

// NewSynthesizerFallback creates a fallback with primary tried first.
func NewSynthesizerFallback(primary tts.Synthesizer, primaryName string, cfg FallbackConfig) *SynthesizerFallback {
	return &SynthesizerFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *SynthesizerFallback) AddFallback(name string, p tts.Synthesizer) {
	f.group.AddFallback(name, p)
}

// Synthesize implements [tts.Synthesizer].
func (f *SynthesizerFallback) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p tts.Synthesizer) (tts.Speech, error) {
		return p.Synthesize(ctx, req)
	})
}

// LLMFallback is an [llm.Provider] that fails over across completion
// backends.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

// NewLLMFallback creates a fallback with primary tried first.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback appends a backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete implements [llm.Provider].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
