package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"
)

const (
	attrTraceID = "trace_id"
	attrSpanID  = "span_id"
	attrService = "service"
	attrEnv     = "env"
	attrMode    = "mode"
)

// NewLogger builds the process logger: a text or JSON handler on w wrapped
// in a TracingHandler.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}

	var inner slog.Handler
	if cfg.LogJSON {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}

	return slog.New(NewTracingHandler(inner, cfg.ServiceName, cfg.Environment, cfg.Mode))
}

// TracingHandler is an [slog.Handler] that adds the active span's trace_id
// and span_id to every record. Service and trace attributes stay at the top
// level under groups: the ungrouped handler is kept and the WithAttrs and
// WithGroup chain is replayed on top of the trace attributes.
type TracingHandler struct {
	base  slog.Handler
	inner slog.Handler
	chain []handlerStep
}

// handlerStep is one WithAttrs or WithGroup call.
type handlerStep struct {
	group string
	attrs []slog.Attr
}

// NewTracingHandler wraps inner.
func NewTracingHandler(inner slog.Handler, service, env string, appMode AppMode) *TracingHandler {
	attrs := []slog.Attr{
		slog.String(attrService, service),
		slog.String(attrMode, string(appMode)),
	}

	if env != "" {
		attrs = append(attrs, slog.String(attrEnv, env))
	}

	base := inner.WithAttrs(attrs)

	return &TracingHandler{base: base, inner: base}
}

// Enabled delegates to the inner handler.
func (th *TracingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return th.inner.Enabled(ctx, level)
}

// Handle adds trace context, then delegates.
func (th *TracingHandler) Handle(ctx context.Context, record slog.Record) error {
	handler := th.inner

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		handler = th.base.WithAttrs([]slog.Attr{
			slog.String(attrTraceID, sc.TraceID().String()),
			slog.String(attrSpanID, sc.SpanID().String()),
		})

		for _, step := range th.chain {
			if step.group != "" {
				handler = handler.WithGroup(step.group)
			} else {
				handler = handler.WithAttrs(step.attrs)
			}
		}
	}

	if err := handler.Handle(ctx, record); err != nil {
		return fmt.Errorf("tracing handler: %w", err)
	}

	return nil
}

// WithAttrs implements [slog.Handler].
func (th *TracingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return th
	}

	return th.with(handlerStep{attrs: attrs}, th.inner.WithAttrs(attrs))
}

// WithGroup implements [slog.Handler].
func (th *TracingHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return th
	}

	return th.with(handlerStep{group: name}, th.inner.WithGroup(name))
}

func (th *TracingHandler) with(step handlerStep, inner slog.Handler) *TracingHandler {
	return &TracingHandler{
		base:  th.base,
		inner: inner,
		chain: append(slices.Clip(th.chain), step),
	}
}

// ParseLevel maps a level name to a slog level. Unknown names yield Info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}

	return level
}
