package logging

import (
	"context"
	"log/slog"
)

// BufferHandler is a slog.Handler that records entries into the shared
// ring buffer. The buffer is resolved on every Handle call so records
// logged before Initialize are simply dropped rather than lost to a
// stale reference.
type BufferHandler struct {
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// NewBufferHandler creates a handler that appends to the package ring buffer.
func NewBufferHandler(level slog.Leveler) *BufferHandler {
	return &BufferHandler{level: level}
}

// Enabled implements slog.Handler.
func (h *BufferHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *BufferHandler) Handle(_ context.Context, r slog.Record) error {
	buffer := GetBuffer()
	if buffer == nil {
		return nil
	}

	entry := Entry{
		Timestamp: r.Time,
		Level:     r.Level.String(),
		Module:    "app",
		Message:   r.Message,
	}

	collect := func(attr slog.Attr) {
		if attr.Key == "module" {
			entry.Module = attr.Value.String()
			return
		}
		if entry.Attributes == nil {
			entry.Attributes = make(map[string]any)
		}
		key := attr.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		entry.Attributes[key] = attr.Value.Any()
	}

	for _, attr := range h.attrs {
		collect(attr)
	}
	r.Attrs(func(attr slog.Attr) bool {
		collect(attr)
		return true
	})

	buffer.Append(entry)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *BufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &BufferHandler{level: h.level, attrs: merged, group: h.group}
}

// WithGroup implements slog.Handler.
func (h *BufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &BufferHandler{level: h.level, attrs: h.attrs, group: group}
}
