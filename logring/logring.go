// Package logring keeps the most recent log lines in memory so that
// failure snapshots can include what the engine was doing.
package logring

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Ring is a fixed-capacity buffer of formatted log lines.
type Ring struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

// NewRing creates a ring holding up to size lines. size < 1 is treated as 1.
func NewRing(size int) *Ring {
	if size < 1 {
		size = 1
	}
	return &Ring{lines: make([]string, size)}
}

// Add appends a line, overwriting the oldest when full.
func (r *Ring) Add(line string) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Lines returns up to n of the most recent lines, oldest first.
// n <= 0 returns everything held.
func (r *Ring) Lines(n int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var all []string
	if r.full {
		all = append(all, r.lines[r.next:]...)
	}
	all = append(all, r.lines[:r.next]...)
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Handler tees records into a Ring while passing them on to the next
// handler. Lines in the ring are rendered with slog's text format.
type Handler struct {
	next slog.Handler
	ring *Ring
	fmt  *formatter
}

// formatter renders one record into a line. chain replays the attrs and
// groups added through WithAttrs and WithGroup onto a fresh text handler.
type formatter struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	h     slog.Handler
	chain func(slog.Handler) slog.Handler
}

func newFormatter(chain func(slog.Handler) slog.Handler) *formatter {
	f := &formatter{chain: chain}
	f.h = chain(slog.NewTextHandler(&f.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return f
}

func identity(h slog.Handler) slog.Handler { return h }

// NewHandler wraps next. Every record next accepts is also added to ring.
func NewHandler(next slog.Handler, ring *Ring) *Handler {
	return &Handler{next: next, ring: ring, fmt: newFormatter(identity)}
}

// Ring returns the buffer the handler writes to.
func (h *Handler) Ring() *Ring { return h.ring }

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, rec slog.Record) error {
	h.ring.Add(h.fmt.render(ctx, rec))
	return h.next.Handle(ctx, rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		next: h.next.WithAttrs(attrs),
		ring: h.ring,
		fmt:  h.fmt.derive(func(t slog.Handler) slog.Handler { return t.WithAttrs(attrs) }),
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		next: h.next.WithGroup(name),
		ring: h.ring,
		fmt:  h.fmt.derive(func(t slog.Handler) slog.Handler { return t.WithGroup(name) }),
	}
}

func (f *formatter) derive(step func(slog.Handler) slog.Handler) *formatter {
	prev := f.chain
	return newFormatter(func(h slog.Handler) slog.Handler { return step(prev(h)) })
}

func (f *formatter) render(ctx context.Context, rec slog.Record) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf.Reset()
	_ = f.h.Handle(ctx, rec)
	return strings.TrimRight(f.buf.String(), "\n")
}
