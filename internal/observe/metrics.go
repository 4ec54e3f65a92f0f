// Package observe provides the client's observability primitives:
// OpenTelemetry metrics, tracing helpers, structured logging and HTTP
// middleware for the admin endpoints.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported to
// Prometheus by [InitProvider]. [*Metrics] implements the small Recorder
// interfaces of the transport, session, capture and playback packages, so
// those packages stay free of any telemetry dependency. Tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/agentlink/internal/session"
	"github.com/MrWong99/agentlink/pkg/audio/capture"
	"github.com/MrWong99/agentlink/pkg/audio/playback"
	"github.com/MrWong99/agentlink/pkg/transport"
	"github.com/MrWong99/agentlink/pkg/wire"
)

var (
	_ transport.Recorder = (*Metrics)(nil)
	_ session.Recorder   = (*Metrics)(nil)
	_ capture.Recorder   = (*Metrics)(nil)
	_ playback.Recorder  = (*Metrics)(nil)
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/agentlink"

// Metrics holds all metric instruments. Safe for concurrent use.
type Metrics struct {
	// --- Transport ---

	// MessagesSent counts frames written to the socket, by message type.
	MessagesSent metric.Int64Counter

	// MessagesReceived counts decoded inbound messages, by message type.
	MessagesReceived metric.Int64Counter

	// DecodeErrors counts inbound frames that failed to decode.
	DecodeErrors metric.Int64Counter

	// CommandsSent counts commands by name.
	CommandsSent metric.Int64Counter

	// ReconnectAttempts counts scheduled reconnect dials.
	ReconnectAttempts metric.Int64Counter

	// ConnectDuration tracks how long a successful Connect took.
	ConnectDuration metric.Float64Histogram

	// --- Session ---

	// SessionTransitions counts state changes, by from and to state.
	SessionTransitions metric.Int64Counter

	// ActiveSessions is 1 while a session is active.
	ActiveSessions metric.Int64UpDownCounter

	// --- Audio ---

	// CapturedFrames counts capture frames by outcome (sent, silence,
	// duplicate, overflow, inactive, error).
	CapturedFrames metric.Int64Counter

	// PlaybackFlushes counts playback queue clears by reason.
	PlaybackFlushes metric.Int64Counter

	// PlaybackDiscards counts inbound audio frames dropped before playback.
	PlaybackDiscards metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin endpoint latency, by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.MessagesSent, "agentlink.transport.messages_sent", "Messages written to the engine by type."},
		{&met.MessagesReceived, "agentlink.transport.messages_received", "Messages decoded from the engine by type."},
		{&met.DecodeErrors, "agentlink.transport.decode_errors", "Inbound frames that could not be decoded."},
		{&met.CommandsSent, "agentlink.transport.commands_sent", "Commands sent by name."},
		{&met.ReconnectAttempts, "agentlink.transport.reconnect_attempts", "Reconnect dials scheduled after a lost connection."},
		{&met.SessionTransitions, "agentlink.session.transitions", "Session state transitions by from and to state."},
		{&met.CapturedFrames, "agentlink.capture.frames", "Captured frames by outcome."},
		{&met.PlaybackFlushes, "agentlink.playback.flushes", "Playback queue clears by reason."},
		{&met.PlaybackDiscards, "agentlink.playback.discarded", "Inbound audio frames dropped before playback by reason."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("agentlink.session.active",
		metric.WithDescription("Number of active sessions."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("agentlink.transport.connect.duration",
		metric.WithDescription("Time to open the engine connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("agentlink.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method and path."),
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

// DefaultMetrics returns the package-level [Metrics] created from
// [otel.GetMeterProvider] on first use. Panics if instrument creation fails.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// ── Recorder implementations ─────────────────────────────────────────────────

// MessageSent implements transport.Recorder.
func (m *Metrics) MessageSent(ctx context.Context, t wire.MessageType) {
	m.MessagesSent.Add(ctx, 1, metric.WithAttributes(Attr("type", t.String())))
}

// MessageReceived implements transport.Recorder.
func (m *Metrics) MessageReceived(ctx context.Context, t wire.MessageType) {
	m.MessagesReceived.Add(ctx, 1, metric.WithAttributes(Attr("type", t.String())))
}

// DecodeError implements transport.Recorder.
func (m *Metrics) DecodeError(ctx context.Context) {
	m.DecodeErrors.Add(ctx, 1)
}

// CommandSent implements transport.Recorder.
func (m *Metrics) CommandSent(ctx context.Context, name string) {
	m.CommandsSent.Add(ctx, 1, metric.WithAttributes(Attr("name", name)))
}

// ReconnectAttempt implements transport.Recorder.
func (m *Metrics) ReconnectAttempt(ctx context.Context, _ int) {
	m.ReconnectAttempts.Add(ctx, 1)
}

// SessionTransition implements session.Recorder. Entering and leaving the
// active state moves [Metrics.ActiveSessions].
func (m *Metrics) SessionTransition(ctx context.Context, from, to string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
	switch {
	case to == "active" && from != "active":
		m.ActiveSessions.Add(ctx, 1)
	case from == "active" && to != "active":
		m.ActiveSessions.Add(ctx, -1)
	}
}

// CaptureFrames implements capture.Recorder.
func (m *Metrics) CaptureFrames(ctx context.Context, outcome string, n int64) {
	m.CapturedFrames.Add(ctx, n, metric.WithAttributes(Attr("outcome", outcome)))
}

// PlaybackFlush implements playback.Recorder.
func (m *Metrics) PlaybackFlush(ctx context.Context, reason string) {
	m.PlaybackFlushes.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}

// PlaybackDiscarded implements playback.Recorder.
func (m *Metrics) PlaybackDiscarded(ctx context.Context, reason string) {
	m.PlaybackDiscards.Add(ctx, 1, metric.WithAttributes(Attr("reason", reason)))
}
