// Package mock provides a test double for the llm.Provider interface.
//
//	p := &mock.Provider{Response: &llm.CompletionResponse{Content: "hello"}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/parla/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Response is returned from Complete when Err is nil. A nil Response
	// yields an empty CompletionResponse.
	Response *llm.CompletionResponse

	// Err, if non-nil, is returned from Complete.
	Err error

	// Calls records every call to Complete.
	Calls []CompleteCall
}

// Complete records the call and returns Response, Err.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Response == nil {
		return &llm.CompletionResponse{}, nil
	}
	resp := *p.Response
	return &resp, nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastUserMessage returns the content of the last message of the most recent
// call, or "" if Complete was never called. Thread-safe.
func (p *Provider) LastUserMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return ""
	}
	msgs := p.Calls[len(p.Calls)-1].Req.Messages
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Content
}

var _ llm.Provider = (*Provider)(nil)
