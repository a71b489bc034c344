// Package logging captures the engine's structured logs into a bounded
// in-memory ring alongside the normal JSON stream on stdout, so the
// debug API can serve the most recent entries without an external log
// aggregator.
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// Ring holds the most recent log entries in a fixed-size buffer; writes
// past capacity evict the oldest entry.
type Ring struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int
}

// NewRing creates a ring holding up to size entries.
func NewRing(size int) *Ring {
	return &Ring{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Append stores one entry, evicting the oldest when full.
func (r *Ring) Append(e Entry) {
	r.mu.Lock()
	r.entries[r.head] = e
	r.head = (r.head + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()
}

// Recent returns the most recent n entries, oldest first.
func (r *Ring) Recent(n int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n > r.count {
		n = r.count
	}
	out := make([]Entry, n)
	start := (r.head - n + r.size) % r.size
	for i := 0; i < n; i++ {
		out[i] = r.entries[(start+i)%r.size]
	}
	return out
}

// Len returns the number of entries currently held.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Handler is a slog.Handler that mirrors every record into a Ring while
// forwarding it to a JSON handler on the given writer. The "component"
// attribute is lifted out of the attribute map so the debug API can
// filter on it.
type Handler struct {
	ring    *Ring
	forward slog.Handler
	level   slog.Level
	attrs   []slog.Attr
}

// NewHandler builds a capturing handler writing its forwarded stream to w.
func NewHandler(ring *Ring, w io.Writer, level slog.Level) *Handler {
	return &Handler{
		ring:    ring,
		forward: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
		level:   level,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	attrs := make(map[string]interface{})
	var component string

	collect := func(a slog.Attr) {
		if a.Key == "component" {
			component = a.Value.String()
		} else {
			attrs[a.Key] = a.Value.Any()
		}
	}
	rec.Attrs(func(a slog.Attr) bool {
		collect(a)
		return true
	})
	for _, a := range h.attrs {
		collect(a)
	}

	h.ring.Append(Entry{
		Time:      rec.Time,
		Level:     rec.Level.String(),
		Message:   rec.Message,
		Component: component,
		Attrs:     attrs,
	})

	return h.forward.Handle(ctx, rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		ring:    h.ring,
		forward: h.forward.WithAttrs(attrs),
		level:   h.level,
		attrs:   append(append([]slog.Attr(nil), h.attrs...), attrs...),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		ring:    h.ring,
		forward: h.forward.WithGroup(name),
		level:   h.level,
		attrs:   h.attrs,
	}
}
