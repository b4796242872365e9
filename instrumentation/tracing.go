package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordError records err on the span and marks it failed.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanSuccess marks the span as completed successfully.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// SetSpanError marks the span as failed with a message but no error
// object.
func SetSpanError(span trace.Span, message string) {
	span.SetStatus(codes.Error, message)
}

// AddFlowAttributes annotates a span with the identifiers of an
// authorization flow. Empty values are omitted.
func AddFlowAttributes(span trace.Span, clientID, userUUID string, scopes []string) {
	attrs := make([]attribute.KeyValue, 0, 3)
	if clientID != "" {
		attrs = append(attrs, attribute.String("oauth.client_id", clientID))
	}
	if userUUID != "" {
		attrs = append(attrs, attribute.String("oauth.user_uuid", userUUID))
	}
	if len(scopes) > 0 {
		attrs = append(attrs, attribute.StringSlice("oauth.scopes", scopes))
	}
	span.SetAttributes(attrs...)
}

// AddStorageAttributes annotates a span with a storage operation.
func AddStorageAttributes(span trace.Span, operation, backend string) {
	span.SetAttributes(
		attribute.String("storage.operation", operation),
		attribute.String("storage.backend", backend),
	)
}
