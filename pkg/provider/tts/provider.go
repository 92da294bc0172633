// Package tts defines the Synthesizer interface for Text-to-Speech backends.
//
// A synthesizer turns one complete reply into raw PCM. Replies are short and
// produced whole by the workflow, so the interface is a single batch call.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Request is one synthesis request.
type Request struct {
	// Text to speak. Never empty; callers skip synthesis for empty replies.
	Text string

	// Voice is a provider-specific speaker identifier. Empty selects the
	// provider default.
	Voice string

	// Language is a BCP-47 hint. Empty selects the provider default.
	Language string
}

// Speech is synthesised audio.
type Speech struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate of PCM in Hz.
	SampleRate int
}

// Synthesizer converts text into speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Speech, error)
}
