package logger

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func TestTraceValuersReadSpanContext(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	if got := traceIDValuer()(ctx); got != traceID.String() {
		t.Fatalf("trace id = %v, want %s", got, traceID)
	}
	if got := spanIDValuer()(ctx); got != spanID.String() {
		t.Fatalf("span id = %v, want %s", got, spanID)
	}
	if got := traceIDValuer()(context.Background()); got != "" {
		t.Fatalf("expected empty trace id without span, got %v", got)
	}
}
