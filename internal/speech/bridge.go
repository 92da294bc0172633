// Package speech joins a speech-to-text and a text-to-speech provider into
// the two calls the workflow needs. Recognition fails soft: a provider error
// becomes an empty transcript.
package speech

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/pkg/audio"
	"github.com/MrWong99/parla/pkg/provider/stt"
	"github.com/MrWong99/parla/pkg/provider/tts"
)

// Bridge wraps the speech providers. Either provider may be nil: a nil
// transcriber always yields "", a nil synthesizer yields no audio.
type Bridge struct {
	stt        stt.Transcriber
	tts        tts.Synthesizer
	sampleRate int
	outRate    int
	voice      string
	language   string
	metrics    *observe.Metrics
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithSampleRate sets the rate of the PCM handed to Transcribe. Default 16000.
func WithSampleRate(hz int) Option {
	return func(b *Bridge) { b.sampleRate = hz }
}

// WithOutputRate resamples synthesized speech to hz. Zero keeps the
// provider's rate.
func WithOutputRate(hz int) Option {
	return func(b *Bridge) { b.outRate = hz }
}

// WithVoice selects the synthesis voice and language.
func WithVoice(voice, language string) Option {
	return func(b *Bridge) {
		b.voice = voice
		b.language = language
	}
}

// WithMetrics records provider latency and errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// New returns a Bridge over the given providers.
func New(t stt.Transcriber, s tts.Synthesizer, opts ...Option) *Bridge {
	b := &Bridge{stt: t, tts: s, sampleRate: 16000}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Transcribe returns the text recognised in pcm, trimmed. Errors are logged
// and reported as "".
func (b *Bridge) Transcribe(ctx context.Context, pcm []byte, languageHint string) string {
	if b.stt == nil || len(pcm) == 0 {
		return ""
	}
	start := time.Now()
	text, err := b.stt.Transcribe(ctx, stt.Request{PCM: pcm, SampleRate: b.sampleRate, Language: languageHint})
	b.observe(ctx, "stt", start, err)
	if err != nil {
		observe.Logger(ctx).Warn("speech: transcription failed", "bytes", len(pcm), "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// Synthesize returns 16-bit mono PCM for text at [Bridge.SampleRateOut], or
// nil when text is blank or no synthesizer is configured.
func (b *Bridge) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if b.tts == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	start := time.Now()
	sp, err := b.tts.Synthesize(ctx, tts.Request{Text: text, Voice: b.voice, Language: b.language})
	b.observe(ctx, "tts", start, err)
	if err != nil {
		return nil, fmt.Errorf("speech: synthesize: %w", err)
	}
	if b.outRate > 0 && sp.SampleRate > 0 && sp.SampleRate != b.outRate {
		return audio.ResampleMono16(sp.PCM, sp.SampleRate, b.outRate), nil
	}
	return sp.PCM, nil
}

// SampleRateOut is the rate of the PCM returned by Synthesize when
// resampling is configured, otherwise 0.
func (b *Bridge) SampleRateOut() int { return b.outRate }

// CanSynthesize reports whether a synthesizer is configured.
func (b *Bridge) CanSynthesize() bool { return b.tts != nil }

func (b *Bridge) observe(ctx context.Context, kind string, start time.Time, err error) {
	if b.metrics == nil {
		return
	}
	d := time.Since(start).Seconds()
	switch kind {
	case "stt":
		b.metrics.STTDuration.Record(ctx, d)
	case "tts":
		b.metrics.TTSDuration.Record(ctx, d)
	}
	if err != nil {
		b.metrics.RecordProviderError(ctx, kind, kind)
	}
}
