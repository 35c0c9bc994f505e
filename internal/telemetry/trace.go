package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/chathub/internal/errors"
)

const instrumentation = "github.com/felixgeelhaar/chathub"

func tracer() trace.Tracer {
	return GetTracerProvider().Tracer(instrumentation)
}

// StartAuthSpan creates a span for an auth service operation.
//
//	ctx, span := telemetry.StartAuthSpan(ctx, "login")
//	defer func() { telemetry.End(span, err) }()
func StartAuthSpan(ctx context.Context, operation string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "auth."+operation,
		trace.WithAttributes(
			attribute.String("component", "auth"),
			attribute.String("operation", operation),
		),
	)
}

// StartKVSpan creates a client span for a command sent to a KV backend.
func StartKVSpan(ctx context.Context, backend, command string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "kv."+command,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("component", "kv"),
			attribute.String("kv.backend", backend),
			attribute.String("kv.command", command),
		),
	)
}

// StartHTTPSpan creates a server span for an HTTP request. The name is
// refined with SetRoute once routing has matched.
func StartHTTPSpan(ctx context.Context, method string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "HTTP "+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("component", "api"),
			attribute.String("http.method", method),
		),
	)
}

// SetRoute names span after the matched route and records the status.
func SetRoute(span trace.Span, method, route string, status int) {
	span.SetName("HTTP " + method + " " + route)
	span.SetAttributes(
		attribute.String("http.route", route),
		attribute.Int("http.status_code", status),
	)
	if status >= 500 {
		span.SetStatus(codes.Error, "server error")
	}
}

// RecordSuccess marks a span as successful with optional result attributes.
func RecordSuccess(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Ok, "")
}

// RecordError records err on span. Coded errors also carry their code.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := errors.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("error.code", string(code)))
	}
}

// End records the outcome of the operation and ends span.
func End(span trace.Span, err error) {
	if err != nil {
		RecordError(span, err)
	} else {
		RecordSuccess(span)
	}
	span.End()
}
