package observability

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(NewTraceContextHandler(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

func TestTraceContextHandler_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer

	logger := newTestLogger(&buf).With("component", "indexer")

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithTrigger(ctx, "api")

	logger.InfoContext(ctx, "indexing: record stored")

	out := buf.String()
	assert.Contains(t, out, "request_id=req-1")
	assert.Contains(t, out, "trigger=api")
	assert.Contains(t, out, "component=indexer")
	assert.NotContains(t, out, "trace_id")
}

func TestTraceContextHandler_SpanIDs(t *testing.T) {
	var buf bytes.Buffer

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	newTestLogger(&buf).InfoContext(ctx, "retrieval: done")

	sc := span.SpanContext()
	require.True(t, sc.IsValid())
	assert.Contains(t, buf.String(), "trace_id="+sc.TraceID().String())
	assert.Contains(t, buf.String(), "span_id="+sc.SpanID().String())
}

func TestTriggerFromContext(t *testing.T) {
	_, ok := TriggerFromContext(context.Background())
	assert.False(t, ok)

	got, ok := TriggerFromContext(WithTrigger(context.Background(), "ticker"))
	assert.True(t, ok)
	assert.Equal(t, "ticker", got)
}
