// Package tracing wraps OpenTelemetry span creation around transport calls
// and turns, mirroring the teacher's transport/shared/tracing.go.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/agenthub/hub"

func tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartTransportCall starts a span for one outbound transport request
// (initialize, startThread, startTurn, interruptTurn).
func StartTransportCall(ctx context.Context, method string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "transport."+method,
		trace.WithAttributes(attribute.String("rpc.method", method)))
}

// StartTurn starts a span covering one full turn (task-started through its
// terminal event).
func StartTurn(ctx context.Context, sessionID, threadID string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "turn",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.String("thread.id", threadID),
		))
}

// End records err on span (if non-nil) and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
