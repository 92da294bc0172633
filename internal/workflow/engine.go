// Package workflow runs the per-utterance pipeline:
//
//	recognize → classify → dispatch → respond → synthesize
//
// Each run owns a fresh [State]. Stages are plain functions executed in a
// fixed order; none of them can abort the run. Every per-utterance failure
// (empty recognition, missing tool, tool error or timeout, completion
// failure) is contained and turned into user-facing text.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/parla/internal/intent"
	"github.com/MrWong99/parla/internal/observe"
	"github.com/MrWong99/parla/internal/tools"
	"github.com/MrWong99/parla/pkg/provider/llm"
)

// User-facing fallback messages.
const (
	MsgCannotProcess  = "抱歉，我暂时无法处理这个请求"
	MsgCompletionFail = "抱歉，我无法处理这个请求"
	MsgToolTimeout    = "请求超时"
)

// ToolUnavailable is the reply when the routed tool is not active.
func ToolUnavailable(tool string) string {
	return fmt.Sprintf("抱歉，%s 工具当前不可用", tool)
}

// ToolFailed is the reply when a tool returned an error.
func ToolFailed(reason string) string {
	return "执行工具时出错: " + reason
}

const (
	defaultToolTimeout       = 10 * time.Second
	defaultCompletionTimeout = 60 * time.Second
)

// errToolTimeout marks a tool call that outlived its deadline.
var errToolTimeout = errors.New("workflow: tool call timed out")

// Transcriber is the recognition half of the speech bridge. It fails soft.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, languageHint string) string
}

// Synthesizer is the synthesis half of the speech bridge. A nil result
// with a nil error means no audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ToolSource resolves active tools by name. *tools.Registry satisfies it.
type ToolSource interface {
	Get(name string) (tools.Tool, bool)
}

// Recorder receives every finished run.
type Recorder interface {
	Record(ctx context.Context, s *State)
}

var _ ToolSource = (*tools.Registry)(nil)

// Engine runs workflows. It holds no per-run state and is safe for
// concurrent use by many sessions.
type Engine struct {
	router    *intent.Router
	tools     ToolSource
	stt       Transcriber
	tts       Synthesizer
	completer llm.Provider
	recorder  Recorder
	metrics   *observe.Metrics

	systemPrompt      string
	language          string
	completionTimeout time.Duration
	toolTimeout       atomic.Int64
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSpeech sets the recognition and synthesis collaborators. Either may
// be nil.
func WithSpeech(t Transcriber, s Synthesizer) Option {
	return func(e *Engine) {
		e.stt = t
		e.tts = s
	}
}

// WithCompleter sets the backend answering utterances no tool serves.
func WithCompleter(p llm.Provider, systemPrompt string) Option {
	return func(e *Engine) {
		e.completer = p
		e.systemPrompt = systemPrompt
	}
}

// WithToolTimeout bounds each tool call. Default 10s.
func WithToolTimeout(d time.Duration) Option {
	return func(e *Engine) { e.SetToolTimeout(d) }
}

// WithCompletionTimeout bounds each completion call. Default 60s.
func WithCompletionTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.completionTimeout = d
		}
	}
}

// WithLanguage sets the recognition language hint used when the input
// carries none.
func WithLanguage(lang string) Option {
	return func(e *Engine) { e.language = lang }
}

// WithRecorder sets the sink for finished runs.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithMetrics records stage, tool and run metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns an Engine dispatching through router and ts.
func New(router *intent.Router, ts ToolSource, opts ...Option) *Engine {
	e := &Engine{
		router:            router,
		tools:             ts,
		completionTimeout: defaultCompletionTimeout,
	}
	e.toolTimeout.Store(int64(defaultToolTimeout))
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetToolTimeout changes the per-tool timeout for subsequent runs.
// Non-positive values are ignored.
func (e *Engine) SetToolTimeout(d time.Duration) {
	if d > 0 {
		e.toolTimeout.Store(int64(d))
	}
}

// ToolTimeout returns the current per-tool timeout.
func (e *Engine) ToolTimeout() time.Duration {
	return time.Duration(e.toolTimeout.Load())
}

type stage struct {
	name Stage
	fn   func(context.Context, *State)
}

func (e *Engine) pipeline() []stage {
	return []stage{
		{StageRecognize, e.recognize},
		{StageClassify, e.classify},
		{StageDispatch, e.dispatch},
		{StageRespond, e.respond},
		{StageSynthesize, e.synthesize},
	}
}

// Run executes the pipeline once over a fresh [State] and returns it. Run
// never fails: the returned State always has SynthesisComplete set.
func (e *Engine) Run(ctx context.Context, in Input) *State {
	s := &State{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		Audio:     in.Audio,
		Text:      strings.TrimSpace(in.Text),
		Language:  in.Language,
		Started:   time.Now(),
		Durations: make(map[Stage]time.Duration, len(Stages)),
	}
	if s.Language == "" {
		s.Language = e.language
	}

	ctx, span := observe.StartSpan(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("run_id", s.ID),
			attribute.String("session_id", s.SessionID),
		),
	)

	for _, st := range e.pipeline() {
		stageCtx, stageSpan := observe.StartSpan(ctx, "workflow."+string(st.name))
		start := time.Now()
		st.fn(stageCtx, s)
		d := time.Since(start)
		s.Durations[st.name] = d
		s.Trace = append(s.Trace, st.name)
		if e.metrics != nil {
			e.metrics.RecordStage(ctx, string(st.name), d)
		}
		stageSpan.End()
	}
	s.Finished = time.Now()

	span.SetAttributes(
		attribute.String("intent", string(s.Intent)),
		attribute.String("tool", s.Tool),
		attribute.Bool("fallback", s.Fallback),
	)
	observe.EndSpan(span, s.Err)

	if e.metrics != nil {
		e.metrics.RecordWorkflow(ctx, string(s.Intent), s.Outcome(), s.Latency())
	}
	observe.Logger(ctx).Info("workflow finished",
		"run_id", s.ID,
		"session_id", s.SessionID,
		"intent", s.Intent,
		"tool", s.Tool,
		"fallback", s.Fallback,
		"latency", s.Latency(),
	)
	if e.recorder != nil {
		e.recorder.Record(context.WithoutCancel(ctx), s)
	}
	return s
}

// ── Stages ───────────────────────────────────────────────────────────────────

func (e *Engine) recognize(ctx context.Context, s *State) {
	if s.Text != "" || e.stt == nil || len(s.Audio) == 0 {
		return
	}
	s.Text = strings.TrimSpace(e.stt.Transcribe(ctx, s.Audio, s.Language))
}

func (e *Engine) classify(_ context.Context, s *State) {
	s.Intent = e.router.Classify(s.Text)
}

func (e *Engine) dispatch(ctx context.Context, s *State) {
	if s.Intent == intent.Unknown || s.Text == "" {
		s.ToolResult, s.Fallback = MsgCannotProcess, true
		return
	}

	name, routed := e.router.Route(s.Intent)
	if !routed {
		e.complete(ctx, s)
		return
	}
	s.Tool = name

	tool, ok := e.tools.Get(name)
	if !ok {
		s.ToolResult, s.Fallback = ToolUnavailable(name), true
		return
	}

	start := time.Now()
	out, err := e.callTool(ctx, tool, s.Text)
	status := "ok"
	switch {
	case errors.Is(err, errToolTimeout):
		status = "timeout"
		s.ToolResult, s.Fallback, s.Err = ToolFailed(MsgToolTimeout), true, err
	case err != nil:
		status = "error"
		s.ToolResult, s.Fallback, s.Err = ToolFailed(err.Error()), true, err
	case strings.TrimSpace(out) == "":
		status = "empty"
		s.ToolResult, s.Fallback = MsgCannotProcess, true
	default:
		s.ToolResult = out
	}
	if e.metrics != nil {
		e.metrics.RecordToolCall(ctx, name, status, time.Since(start))
	}
	if err != nil {
		observe.Logger(ctx).Warn("tool call failed", "tool", name, "error", err)
	}
}

// callTool runs tool under the tool timeout. A tool that ignores its
// context is abandoned at the deadline and finishes in the background; a
// panic is converted to an error.
func (e *Engine) callTool(ctx context.Context, tool tools.Tool, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.ToolTimeout())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("%v", p)}
			}
		}()
		out, err := tool.Run(ctx, query)
		done <- result{out, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() != nil {
			return "", errToolTimeout
		}
		return r.out, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", errToolTimeout
		}
		return "", ctx.Err()
	}
}

func (e *Engine) complete(ctx context.Context, s *State) {
	if e.completer == nil {
		s.ToolResult, s.Fallback = MsgCompletionFail, true
		return
	}
	ctx, cancel := context.WithTimeout(ctx, e.completionTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.completer.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: e.systemPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: s.Text}},
	})
	if e.metrics != nil {
		e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordProviderError(ctx, "llm", "llm")
		}
		observe.Logger(ctx).Warn("completion failed", "error", err)
		s.ToolResult, s.Fallback, s.Err = MsgCompletionFail, true, err
		return
	}
	text := ""
	if resp != nil {
		text = StripReasoning(resp.Content)
	}
	if text == "" {
		s.ToolResult, s.Fallback = MsgCompletionFail, true
		return
	}
	s.ToolResult = text
}

// respond copies the dispatch result into the response. It is the seam for
// any future response shaping.
func (e *Engine) respond(_ context.Context, s *State) {
	s.Response = s.ToolResult
}

func (e *Engine) synthesize(ctx context.Context, s *State) {
	defer func() { s.SynthesisComplete = true }()
	if e.tts == nil || s.Response == "" {
		return
	}
	pcm, err := e.tts.Synthesize(ctx, s.Response)
	if err != nil {
		observe.Logger(ctx).Warn("synthesis failed", "error", err)
		return
	}
	s.Speech = pcm
}

// ── Helpers ──────────────────────────────────────────────────────────────────

var reasoningRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes <think>…</think> blocks that reasoning models emit
// ahead of their answer and trims the rest.
func StripReasoning(s string) string {
	s = reasoningRe.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
