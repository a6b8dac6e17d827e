package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the Vocality tracer.
const tracerName = "github.com/vocality-ai/vocality"

// SpanTurn is the root span of one conversational turn, from accepted
// transcript to delivered audio.
const SpanTurn = "voice.turn"

// Tracer returns the package-level [trace.Tracer] for Vocality. It uses the
// globally registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// StartTurnSpan starts the root span of one conversational turn, tagged with
// the session identity and the turn's epoch so a trace can be matched to the
// gateway's staleness decisions in the logs.
func StartTurnSpan(ctx context.Context, sessionID string, epoch uint64) (context.Context, trace.Span) {
	return Tracer().Start(ctx, SpanTurn, trace.WithAttributes(
		attribute.String("session.id", sessionID),
		attribute.Int64("turn.epoch", int64(epoch)),
	))
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
// The trace ID doubles as the correlation identifier in logs and the
// X-Correlation-ID response header.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}
