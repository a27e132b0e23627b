package observability

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type ctxKey int

const (
	requestIDCtxKey ctxKey = iota
	triggerCtxKey
)

// RequestIDKey is the context key for the request ID (X-Request-ID). The RequestID middleware sets it.
const RequestIDKey = requestIDCtxKey

// WithRequestID stores the X-Request-ID value in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDCtxKey, id)
}

// RequestIDFromContext returns the id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDCtxKey).(string)

	return id
}

// WithTrigger marks ctx with what started an indexing pass ("ticker", "api", "cli") so every
// job log line of that pass carries it.
func WithTrigger(ctx context.Context, trigger string) context.Context {
	return context.WithValue(ctx, triggerCtxKey, trigger)
}

// TriggerFromContext returns the trigger set by WithTrigger.
func TriggerFromContext(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(triggerCtxKey).(string)

	return t, ok && t != ""
}

// contextAttrs maps context keys to log attribute names.
var contextAttrs = []struct {
	key  ctxKey
	attr string
}{
	{requestIDCtxKey, "request_id"},
	{triggerCtxKey, "trigger"},
}

// TraceContextHandler wraps a slog.Handler and adds trace_id and span_id plus the request_id and
// drain trigger found in the context. Only the *Context logging calls carry them.
type TraceContextHandler struct {
	inner slog.Handler
}

// NewTraceContextHandler wraps inner.
func NewTraceContextHandler(inner slog.Handler) *TraceContextHandler {
	return &TraceContextHandler{inner: inner}
}

// Enabled reports whether the inner handler is enabled for the given level.
func (h *TraceContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enriches r from ctx and forwards it.
func (h *TraceContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	for _, ca := range contextAttrs {
		if v, ok := ctx.Value(ca.key).(string); ok && v != "" {
			r.AddAttrs(slog.String(ca.attr, v))
		}
	}

	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("inner handler: %w", err)
	}

	return nil
}

func (h *TraceContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceContextHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *TraceContextHandler) WithGroup(name string) slog.Handler {
	return &TraceContextHandler{inner: h.inner.WithGroup(name)}
}
