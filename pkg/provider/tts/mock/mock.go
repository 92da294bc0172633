// Package mock provides a test double for the tts.Synthesizer interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parla/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Synthesizer.
type Provider struct {
	mu sync.Mutex

	// Speech is returned from every Synthesize call.
	Speech tts.Speech

	// Err, if non-nil, is returned instead of Speech.
	Err error

	// Calls records the request of every Synthesize call.
	Calls []tts.Request
}

// Synthesize records the call and returns Speech, Err.
func (p *Provider) Synthesize(_ context.Context, req tts.Request) (tts.Speech, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if p.Err != nil {
		return tts.Speech{}, p.Err
	}
	return p.Speech, nil
}

// CallCount returns the number of Synthesize calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Texts returns the text of every recorded call in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

var _ tts.Synthesizer = (*Provider)(nil)
