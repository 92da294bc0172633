// Package observe provides the observability primitives for parla:
// OpenTelemetry metrics and tracing, trace-aware logging, a Prometheus
// scrape handler, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through the Prometheus bridge set up by [InitProvider]. A package-level
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with their own [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all parla metrics.
const meterName = "github.com/MrWong99/parla"

// Metrics holds the OpenTelemetry instruments of the application. All fields
// are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// WorkflowDuration tracks a full workflow run. Attribute "outcome".
	WorkflowDuration metric.Float64Histogram

	// StageDuration tracks a single workflow stage. Attribute "stage".
	StageDuration metric.Float64Histogram

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// LLMDuration tracks completion latency.
	LLMDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool latency. Attribute "tool".
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts classified utterances. Attribute "intent".
	Utterances metric.Int64Counter

	// ToolCalls counts tool invocations. Attributes "tool", "status".
	ToolCalls metric.Int64Counter

	// ProviderErrors counts provider failures. Attributes "provider", "kind".
	ProviderErrors metric.Int64Counter

	// SegmentFlushes counts audio buffer flushes. Attribute "reason".
	SegmentFlushes metric.Int64Counter

	// MalformedMessages counts inbound messages that failed to decode.
	MalformedMessages metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Attributes
	// "breaker", "to".
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of connected client sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes
	// "method", "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for an
// utterance round trip that is dominated by recognition and tool latency.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.WorkflowDuration, "parla.workflow.duration", "Latency of a full workflow run."},
		{&met.StageDuration, "parla.workflow.stage.duration", "Latency of a single workflow stage."},
		{&met.STTDuration, "parla.stt.duration", "Latency of speech-to-text transcription."},
		{&met.TTSDuration, "parla.tts.duration", "Latency of text-to-speech synthesis."},
		{&met.LLMDuration, "parla.llm.duration", "Latency of language model completion."},
		{&met.ToolExecutionDuration, "parla.tool_execution.duration", "Latency of tool execution."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.Utterances, "parla.utterances", "Classified utterances by intent."},
		{&met.ToolCalls, "parla.tool.calls", "Tool invocations by tool name and status."},
		{&met.ProviderErrors, "parla.provider.errors", "Provider errors by provider and kind."},
		{&met.SegmentFlushes, "parla.segmenter.flushes", "Audio buffer flushes by reason."},
		{&met.MalformedMessages, "parla.session.malformed_messages", "Inbound messages that failed to decode."},
		{&met.BreakerTransitions, "parla.breaker.transitions", "Circuit breaker state changes."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("parla.active_sessions",
		metric.WithDescription("Number of connected client sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("parla.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call from [otel.GetMeterProvider]. Panics if instrument creation
// fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordStage records the latency of one workflow stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	m.StageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("stage", stage)))
}

// RecordWorkflow records a finished workflow run.
func (m *Metrics) RecordWorkflow(ctx context.Context, intent, outcome string, d time.Duration) {
	m.WorkflowDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("outcome", outcome)))
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("intent", intent)))
}

// RecordToolCall records one tool invocation.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(Attr("tool", tool), Attr("status", status)))
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(Attr("tool", tool)))
}

// RecordProviderError records a provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(Attr("provider", provider), Attr("kind", kind)),
	)
}

// RecordFlush records an audio buffer flush.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.SegmentFlushes.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// RecordBreakerTransition records a circuit breaker entering state to.
func (m *Metrics) RecordBreakerTransition(name, to string) {
	m.BreakerTransitions.Add(context.Background(), 1,
		metric.WithAttributes(Attr("breaker", name), Attr("to", to)),
	)
}
