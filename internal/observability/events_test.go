package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestPropagationHeaders(t *testing.T) {
	assert.Empty(t, PropagationHeaders(context.Background()))

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(WithRequestID(context.Background(), "req-1"), sc)

	assert.Equal(t, map[string]string{
		"x-request-id": "req-1",
		"trace_id":     "4bf92f3577b34da6a3ce929d0e0e4736",
	}, PropagationHeaders(ctx))
}

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope("ws_events", "ws_connect", map[string]int{"n": 1})
	assert.Equal(t, "ws_events", env.EventType)
	assert.Equal(t, "ws_connect", env.EventName)
	assert.False(t, env.OccurredAt.IsZero())
}
