package service

import (
	"context"

	"censustwin/contract"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "censustwin/gateway"

// startSpan opens a span for one service operation. The returned func ends it, recording err.
func startSpan(ctx context.Context, operation string, caller contract.Identity, recordID string) (context.Context, func(error)) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ledger."+operation,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("ledger.function", operation),
			attribute.String("ledger.caller.authority", caller.AuthorityID),
		),
	)
	if recordID != "" {
		span.SetAttributes(attribute.String("census.record_id", recordID))
	}

	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.String("ledger.error_code", contract.ErrorCode(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}
}
