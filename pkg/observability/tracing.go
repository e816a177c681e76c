package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span is the tracing interface consumed by components so call sites
// never import the otel SDK directly.
type Span interface {
	End()
	SetAttributes(attributes ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(ok bool, description string)
}

var tracer = otel.Tracer("promptfirewall")

// StartSpan starts a span under the global otel tracer provider. When
// no SDK tracer provider has been installed (the common case in unit
// tests), the otel API's default no-op implementation is returned
// transparently.
func StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }

func (s *otelSpan) SetAttributes(attributes ...attribute.KeyValue) {
	s.span.SetAttributes(attributes...)
}

func (s *otelSpan) RecordError(err error) {
	if err == nil {
		return
	}
	s.span.RecordError(err)
}

func (s *otelSpan) SetStatus(ok bool, description string) {
	if ok {
		s.span.SetStatus(codes.Ok, description)
		return
	}
	s.span.SetStatus(codes.Error, description)
}

// NoopSpan satisfies Span without touching otel; handy for code paths
// that want to skip tracing (e.g. synthetic batch-error results).
type NoopSpan struct{}

func (NoopSpan) End()                                {}
func (NoopSpan) SetAttributes(...attribute.KeyValue) {}
func (NoopSpan) RecordError(error)                   {}
func (NoopSpan) SetStatus(bool, string)              {}
