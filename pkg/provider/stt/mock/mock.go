// Package mock provides a test double for the stt.Transcriber interface.
//
// Example:
//
//	p := &mock.Provider{Text: "今天天气怎么样"}
//	text, _ := p.Transcribe(ctx, stt.Request{PCM: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parla/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Req is the request, with PCM copied.
	Req stt.Request
}

// Provider is a mock implementation of stt.Transcriber.
type Provider struct {
	mu sync.Mutex

	// Text is returned from every Transcribe call.
	Text string

	// Err, if non-nil, is returned instead of Text.
	Err error

	// TextFunc, if set, overrides Text and Err.
	TextFunc func(req stt.Request) (string, error)

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the configured response.
func (p *Provider) Transcribe(_ context.Context, req stt.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := req
	cp.PCM = append([]byte(nil), req.PCM...)
	p.Calls = append(p.Calls, TranscribeCall{Req: cp})
	if p.TextFunc != nil {
		return p.TextFunc(req)
	}
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Transcriber = (*Provider)(nil)
