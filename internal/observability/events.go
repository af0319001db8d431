package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Envelope wraps operational events published to the broker.
type Envelope struct {
	EventType  string    `json:"event_type"`
	EventName  string    `json:"event_name"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

func NewEnvelope(eventType, eventName string, payload any) Envelope {
	return Envelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// PropagationHeaders returns the request id and active trace id of ctx as
// message headers. Absent values are omitted.
func PropagationHeaders(ctx context.Context) map[string]string {
	headers := map[string]string{}
	if id := RequestIDFromContext(ctx); id != "" {
		headers["x-request-id"] = id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		headers["trace_id"] = sc.TraceID().String()
	}
	return headers
}
