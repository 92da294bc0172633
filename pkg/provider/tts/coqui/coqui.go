// Package coqui provides a Synthesizer backed by a locally running Coqui TTS
// server.
//
// Two API modes are supported:
//
//   - APIModeStandard (default): the standard Coqui TTS server
//     (ghcr.io/coqui-ai/tts-cpu). Synthesis is a GET /api/tts with URL query
//     parameters.
//
//   - APIModeXTTS: the Coqui XTTS v2 API server. Synthesis is a
//     POST /tts_to_audio/ with a JSON body and requires a speaker.
//
// Both return a WAV file; the header is stripped and the PCM payload is
// optionally resampled to the pipeline rate.
//
//	p, _ := coqui.New("http://localhost:5002", coqui.WithLanguage("zh-cn"))
//	speech, err := p.Synthesize(ctx, tts.Request{Text: "你好"})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/parla/pkg/audio"
	"github.com/MrWong99/parla/pkg/provider/tts"
)

var _ tts.Synthesizer = (*Provider)(nil)

const (
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	// APIModeXTTS targets the Coqui XTTS v2 API server (/tts_to_audio/).
	APIModeXTTS APIMode = "xtts"

	// APIModeStandard targets the standard Coqui TTS server (/api/tts).
	APIModeStandard APIMode = "standard"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the default language sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithVoice sets the default speaker used when a request carries none.
func WithVoice(voice string) Option {
	return func(p *Provider) { p.voice = voice }
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// WithAPIMode sets the server API mode. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithOutputSampleRate resamples synthesised PCM to rate. Zero keeps the
// model's native rate.
func WithOutputSampleRate(rate int) Option {
	return func(p *Provider) { p.outputRate = rate }
}

// Provider implements tts.Synthesizer. It is safe for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	voice      string
	apiMode    APIMode
	outputRate int
	httpClient *http.Client
}

// New creates a Provider targeting the server at serverURL
// (e.g. "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// xttsRequest is the JSON body sent to POST /tts_to_audio/.
type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// Synthesize renders req.Text and returns mono PCM.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (tts.Speech, error) {
	if strings.TrimSpace(req.Text) == "" {
		return tts.Speech{}, errors.New("coqui: text must not be empty")
	}
	voice := req.Voice
	if voice == "" {
		voice = p.voice
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	var (
		httpReq *http.Request
		err     error
	)
	if p.apiMode == APIModeXTTS {
		if voice == "" {
			return tts.Speech{}, errors.New("coqui: voice must not be empty in XTTS mode")
		}
		data, merr := json.Marshal(xttsRequest{Text: req.Text, SpeakerWav: voice, Language: lang})
		if merr != nil {
			return tts.Speech{}, fmt.Errorf("coqui: marshal tts request: %w", merr)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(data))
		if err == nil {
			httpReq.Header.Set("Content-Type", "application/json")
		}
	} else {
		params := url.Values{}
		params.Set("text", req.Text)
		if voice != "" {
			params.Set("speaker_id", voice)
		}
		if lang != "" {
			params.Set("language_id", lang)
		}
		httpReq, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
	}
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %s %s: %w", httpReq.Method, httpReq.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return tts.Speech{}, fmt.Errorf("coqui: %s %s returned status %d", httpReq.Method, httpReq.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: read WAV response: %w", err)
	}

	pcm, rate, err := audio.DecodeWAV(wav)
	if err != nil {
		return tts.Speech{}, fmt.Errorf("coqui: %w", err)
	}
	if p.outputRate > 0 && rate != p.outputRate {
		pcm = audio.ResampleMono16(pcm, rate, p.outputRate)
		rate = p.outputRate
	}
	return tts.Speech{PCM: pcm, SampleRate: rate}, nil
}
