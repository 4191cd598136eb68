// Package observe provides application-wide observability primitives for
// Cadenza: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cadenza metrics.
const meterName = "github.com/cadenza-ai/cadenza"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks interviewer response generation latency, from
	// prompt dispatch to the end of the streamed response.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency per segment.
	TTSDuration metric.Float64Histogram

	// KnowledgeDuration tracks knowledge retrieval assembly latency.
	KnowledgeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// PromptInjections counts system-initiated prompts fed to the LLM stage.
	// Use with attribute:
	//   attribute.String("source", ...)
	PromptInjections metric.Int64Counter

	// PhaseTransitions counts interview phase entries. Use with attribute:
	//   attribute.Int("sequence", ...)
	PhaseTransitions metric.Int64Counter

	// TimerNudges counts mid-phase timer nudges. Use with attribute:
	//   attribute.Bool("final", ...)
	TimerNudges metric.Int64Counter

	// ArtifactSubmissions counts accepted code and design submissions. Use
	// with attributes:
	//   attribute.String("pipeline", ...), attribute.String("kind", ...)
	ArtifactSubmissions metric.Int64Counter

	// TranscriptEvents counts transcript entries published on the event bus.
	// Use with attribute:
	//   attribute.String("sender", ...)
	TranscriptEvents metric.Int64Counter

	// Interruptions counts candidate barge-ins that cut queued interviewer
	// audio at the transport sink.
	Interruptions metric.Int64Counter

	// SSEEvents counts server-sent events pushed to interview clients. Use
	// with attribute:
	//   attribute.String("event", ...)
	SSEEvents metric.Int64Counter

	// SessionsStarted counts interview sessions brought up by the
	// orchestrator.
	SessionsStarted metric.Int64Counter

	// CompletionRuns counts completion workflow executions. Use with
	// attribute:
	//   attribute.String("outcome", ...)
	CompletionRuns metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// ArtifactPersistFailures counts artifact snapshots that could not be
	// persisted. Use with attribute:
	//   attribute.String("pipeline", ...)
	ArtifactPersistFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("cadenza.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("cadenza.llm.duration",
		metric.WithDescription("Latency of interviewer response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("cadenza.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.KnowledgeDuration, err = m.Float64Histogram("cadenza.knowledge.duration",
		metric.WithDescription("Latency of knowledge retrieval assembly."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("cadenza.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.PromptInjections, err = m.Int64Counter("cadenza.prompt.injections",
		metric.WithDescription("Total system-initiated prompt injections by source."),
	); err != nil {
		return nil, err
	}
	if met.PhaseTransitions, err = m.Int64Counter("cadenza.phase.transitions",
		metric.WithDescription("Total interview phase entries by sequence."),
	); err != nil {
		return nil, err
	}
	if met.TimerNudges, err = m.Int64Counter("cadenza.timer.nudges",
		metric.WithDescription("Total mid-phase timer nudges."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactSubmissions, err = m.Int64Counter("cadenza.artifact.submissions",
		metric.WithDescription("Total accepted artifact submissions by pipeline and kind."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptEvents, err = m.Int64Counter("cadenza.transcript.events",
		metric.WithDescription("Total transcript entries published by sender."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("cadenza.audio.interruptions",
		metric.WithDescription("Total candidate interruptions that cut queued audio."),
	); err != nil {
		return nil, err
	}
	if met.SSEEvents, err = m.Int64Counter("cadenza.sse.events",
		metric.WithDescription("Total server-sent events pushed by event type."),
	); err != nil {
		return nil, err
	}
	if met.SessionsStarted, err = m.Int64Counter("cadenza.sessions.started",
		metric.WithDescription("Total interview sessions started."),
	); err != nil {
		return nil, err
	}
	if met.CompletionRuns, err = m.Int64Counter("cadenza.completion.runs",
		metric.WithDescription("Total completion workflow runs by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("cadenza.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.ArtifactPersistFailures, err = m.Int64Counter("cadenza.artifact.persist_failures",
		metric.WithDescription("Total artifact persistence failures by pipeline."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("cadenza.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cadenza.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordPromptInjection is a convenience method that records a prompt
// injection counter increment.
func (m *Metrics) RecordPromptInjection(ctx context.Context, source string) {
	m.PromptInjections.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordArtifactSubmission is a convenience method that records an accepted
// artifact submission.
func (m *Metrics) RecordArtifactSubmission(ctx context.Context, pipeline string, initial bool) {
	kind := "update"
	if initial {
		kind = "initial"
	}
	m.ArtifactSubmissions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("pipeline", pipeline),
			attribute.String("kind", kind),
		),
	)
}

// RecordTimerNudge is a convenience method that records a timer nudge counter
// increment.
func (m *Metrics) RecordTimerNudge(ctx context.Context, final bool) {
	m.TimerNudges.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("final", final)),
	)
}

// RecordCompletionRun is a convenience method that records a completion
// workflow run by outcome.
func (m *Metrics) RecordCompletionRun(ctx context.Context, outcome string) {
	m.CompletionRuns.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}
