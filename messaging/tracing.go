package messaging

import (
	"context"

	"github.com/glimte/voicebus/contracts"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/glimte/voicebus"

// StartSpan opens a span for a bus operation on env
func StartSpan(ctx context.Context, system, operation string, env *contracts.Envelope) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "bus."+operation)
	span.SetAttributes(
		attribute.String("messaging.system", system),
		attribute.String("messaging.destination", env.Type),
		attribute.String("messaging.message_id", env.ID),
		attribute.Int("messaging.priority", env.Priority),
		attribute.Int("messaging.attempts", env.Attempts),
	)
	if env.CorrelationID != "" {
		span.SetAttributes(attribute.String("messaging.correlation_id", env.CorrelationID))
	}
	return ctx, span
}

// EndSpan records err on span and ends it
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
