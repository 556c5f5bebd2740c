// Package telemetry provides OpenTelemetry integration for the chat client.
// Telemetry is disabled by default and must be explicitly enabled; spans
// cover chat requests and tool invocations.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Settings configures telemetry for chat operations.
type Settings struct {
	// IsEnabled controls whether telemetry is active. Defaults to false.
	IsEnabled bool

	// FunctionID is an identifier for grouping telemetry data by caller.
	FunctionID string

	// Metadata contains additional key-value pairs to include in spans.
	Metadata map[string]attribute.Value

	// Tracer is a custom OpenTelemetry tracer. If nil, the global tracer
	// will be used.
	Tracer trace.Tracer
}

// DefaultSettings returns Settings with sensible defaults.
func DefaultSettings() *Settings {
	return &Settings{
		Metadata: make(map[string]attribute.Value),
	}
}

// ResolveTracer returns the tracer to use: the configured one, the global
// one when enabled, or a no-op tracer when disabled.
func (s *Settings) ResolveTracer() trace.Tracer {
	if s == nil || !s.IsEnabled {
		return noop.NewTracerProvider().Tracer("go-chat")
	}
	if s.Tracer != nil {
		return s.Tracer
	}
	return otel.Tracer("go-chat")
}

// StartSpan opens a span carrying the settings metadata.
func (s *Settings) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := s.ResolveTracer()
	if s != nil {
		if s.FunctionID != "" {
			attrs = append(attrs, attribute.String("operation.function_id", s.FunctionID))
		}
		for k, v := range s.Metadata {
			attrs = append(attrs, attribute.KeyValue{Key: attribute.Key("operation.metadata." + k), Value: v})
		}
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan finalizes a span, recording err when non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
