// Package stt defines the Transcriber interface for Speech-to-Text backends.
//
// Utterances are cut upstream by the audio segmenter, so a transcriber only
// ever sees complete, bounded chunks of audio. Implementations turn one such
// chunk into text in a single call; there is no streaming session.
//
// Implementations must be safe for concurrent use: every live session calls
// Transcribe from its own goroutine.
package stt

import "context"

// Request describes one utterance to transcribe.
type Request struct {
	// PCM is raw 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate of PCM in Hz. Zero selects the provider default.
	SampleRate int

	// Language is a BCP-47 hint (e.g. "zh", "en"). An empty string lets the
	// provider auto-detect, if supported.
	Language string
}

// Transcriber converts a single utterance into text.
type Transcriber interface {
	// Transcribe returns the recognised text for req. An utterance that
	// contains no speech yields an empty string and a nil error.
	Transcribe(ctx context.Context, req Request) (string, error)
}
