package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Message kinds.
const (
	KindAudio        = "audio"
	KindStop         = "stop"
	KindResponse     = "response"
	KindNotification = "notification"
	KindSpeech       = "speech"
)

// ErrMalformed is returned for inbound messages that are not a valid
// envelope.
var ErrMalformed = errors.New("session: malformed message")

// Inbound is a decoded client message.
type Inbound struct {
	Type string

	// PCM is the decoded audio of an "audio" message.
	PCM []byte
}

type inboundWire struct {
	Type string  `json:"type"`
	Data *string `json:"data"`
}

// DecodeInbound parses a client envelope. Audio data is standard base64 of
// PCM16 mono. A missing or empty "data" is an empty chunk. Unknown types are
// returned as-is for the caller to ignore.
func DecodeInbound(raw []byte) (Inbound, error) {
	var w inboundWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Inbound{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if w.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	in := Inbound{Type: w.Type}
	if w.Type == KindAudio && w.Data != nil && *w.Data != "" {
		pcm, err := base64.StdEncoding.DecodeString(*w.Data)
		if err != nil {
			return Inbound{}, fmt.Errorf("%w: audio data: %w", ErrMalformed, err)
		}
		in.PCM = pcm
	}
	return in, nil
}

// Outbound is a server message. Its JSON form depends on Type:
//
//	{"type":"response","text":…,"timestamp":<unix seconds>}
//	{"type":"notification","message":…}
//	{"type":"speech","data":<base64 PCM16>,"sample_rate":…}
type Outbound struct {
	Type       string
	Text       string
	Timestamp  time.Time
	Message    string
	Audio      []byte
	SampleRate int
}

// Response builds a "response" message stamped with at.
func Response(text string, at time.Time) Outbound {
	return Outbound{Type: KindResponse, Text: text, Timestamp: at}
}

// Notification builds a "notification" message.
func Notification(msg string) Outbound {
	return Outbound{Type: KindNotification, Message: msg}
}

// Speech builds a "speech" message carrying synthesized PCM.
func Speech(pcm []byte, sampleRate int) Outbound {
	return Outbound{Type: KindSpeech, Audio: pcm, SampleRate: sampleRate}
}

// MarshalJSON implements [json.Marshaler].
func (o Outbound) MarshalJSON() ([]byte, error) {
	switch o.Type {
	case KindResponse:
		return json.Marshal(struct {
			Type      string  `json:"type"`
			Text      string  `json:"text"`
			Timestamp float64 `json:"timestamp"`
		}{o.Type, o.Text, float64(o.Timestamp.UnixNano()) / 1e9})
	case KindNotification:
		return json.Marshal(struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		}{o.Type, o.Message})
	case KindSpeech:
		return json.Marshal(struct {
			Type       string `json:"type"`
			Data       string `json:"data"`
			SampleRate int    `json:"sample_rate"`
		}{o.Type, base64.StdEncoding.EncodeToString(o.Audio), o.SampleRate})
	default:
		return nil, fmt.Errorf("session: unknown outbound type %q", o.Type)
	}
}
