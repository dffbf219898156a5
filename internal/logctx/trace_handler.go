package logctx

import (
	"context"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel/trace"
)

// TraceHandler wraps an slog.Handler and stamps every record emitted inside a
// sampled span with its trace_id and span_id. The ids always sit at the top
// level of the record, even when the logger has open groups.
type TraceHandler struct {
	// root has every WithAttrs applied that came before the first group.
	root slog.Handler
	// steps replays the calls made after the first group on top of root.
	steps []step
	inner slog.Handler
}

type step struct {
	group string
	attrs []slog.Attr
}

// NewTraceHandler panics on a nil handler.
func NewTraceHandler(h slog.Handler) *TraceHandler {
	if h == nil {
		panic("logctx: NewTraceHandler called with nil handler")
	}
	return &TraceHandler{root: h, inner: h}
}

func (h *TraceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return h.inner.Handle(ctx, r)
	}

	out := h.root.WithAttrs([]slog.Attr{
		slog.String("trace_id", sc.TraceID().String()),
		slog.String("span_id", sc.SpanID().String()),
	})

	for _, s := range h.steps {
		if s.group != "" {
			out = out.WithGroup(s.group)
		} else {
			out = out.WithAttrs(s.attrs)
		}
	}

	return out.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	if len(h.steps) == 0 {
		root := h.root.WithAttrs(attrs)
		return &TraceHandler{root: root, inner: root}
	}

	return &TraceHandler{
		root:  h.root,
		steps: append(slices.Clip(h.steps), step{attrs: attrs}),
		inner: h.inner.WithAttrs(attrs),
	}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	return &TraceHandler{
		root:  h.root,
		steps: append(slices.Clip(h.steps), step{group: name}),
		inner: h.inner.WithGroup(name),
	}
}
