package emit

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns each event into a single completed OpenTelemetry span
// named after event.Msg, carrying the event's fields and Meta as
// attributes. Events represent points in time, not durations, so the span
// is started and ended immediately — unless Meta carries "duration_ms", in
// which case it's recorded as a span attribute rather than an artificial
// end-time offset.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter returns an OTelEmitter using tracer, typically obtained
// via otel.Tracer("gateway-streamer").
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

func (o *OTelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Msg)
	defer span.End()

	span.SetAttributes(
		attribute.String("run_id", event.RunID),
		attribute.Int("step", event.Step),
		attribute.String("node_id", event.NodeID),
	)
	for k, v := range event.Meta {
		switch val := v.(type) {
		case string:
			span.SetAttributes(attribute.String(k, val))
		case int:
			span.SetAttributes(attribute.Int(k, val))
		case int64:
			span.SetAttributes(attribute.Int64(k, val))
		case float64:
			span.SetAttributes(attribute.Float64(k, val))
		case bool:
			span.SetAttributes(attribute.Bool(k, val))
		}
	}
	if errVal, ok := event.Meta["error"]; ok {
		span.SetStatus(codes.Error, "")
		if s, ok := errVal.(string); ok {
			span.SetStatus(codes.Error, s)
		}
	}
}

// EmitBatch emits each event as its own span, in order.
func (o *OTelEmitter) EmitBatch(_ context.Context, events []Event) error {
	for _, e := range events {
		o.Emit(e)
	}
	return nil
}

// Flush is a no-op: spans are ended synchronously in Emit. Exporter-level
// flushing is the caller's responsibility via the configured
// TracerProvider.
func (o *OTelEmitter) Flush(context.Context) error { return nil }
