package workflow

import (
	"time"

	"github.com/MrWong99/parla/internal/intent"
)

// Stage names a pipeline stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageRecognize  Stage = "recognize"
	StageClassify   Stage = "classify"
	StageDispatch   Stage = "dispatch"
	StageRespond    Stage = "respond"
	StageSynthesize Stage = "synthesize"
)

// Stages lists every stage in execution order.
var Stages = []Stage{StageRecognize, StageClassify, StageDispatch, StageRespond, StageSynthesize}

// Input is one utterance handed to [Engine.Run]. When Text is non-empty the
// recognition stage uses it verbatim and Audio is ignored.
type Input struct {
	Audio     []byte
	Text      string
	Language  string
	SessionID string
}

// State is the record of one workflow run. Every run gets a fresh State and
// stages fill its fields strictly in pipeline order.
type State struct {
	// ID identifies the run.
	ID        string
	SessionID string

	// Audio is the utterance PCM, nil in text mode.
	Audio []byte

	// Language is the recognition hint.
	Language string

	// Text is the recognised (or supplied) text. Empty when recognition
	// produced nothing.
	Text string

	Intent intent.Label

	// Tool is the tool name dispatch routed to. Empty when the completion
	// backend answered or no dispatch target applied.
	Tool string

	// ToolResult is the dispatch output: a tool reply, a completion, or a
	// fallback message. Never empty once dispatch ran.
	ToolResult string

	// Response is the text returned to the user.
	Response string

	// Speech is the synthesized PCM of Response, if any.
	Speech []byte

	// SynthesisComplete is set by the final stage, always.
	SynthesisComplete bool

	// Fallback is true when Response is one of the fixed fallback messages
	// instead of a tool or completion result.
	Fallback bool

	// Err is the contained failure behind a fallback, if any. It never
	// escapes the run.
	Err error

	Started  time.Time
	Finished time.Time

	// Trace lists the stages that ran, in order.
	Trace []Stage

	// Durations holds the latency of each stage.
	Durations map[Stage]time.Duration
}

// Latency is the wall time of the whole run.
func (s *State) Latency() time.Duration {
	if s.Finished.IsZero() {
		return 0
	}
	return s.Finished.Sub(s.Started)
}

// Outcome is "success" or "fallback", used as a metric attribute.
func (s *State) Outcome() string {
	if s.Fallback {
		return "fallback"
	}
	return "success"
}
