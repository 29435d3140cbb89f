package testenv

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// TestLogHandler is a slog.Handler that prints a message index (starting
// from 0), the level and the message with its attributes, without the
// timestamp. This keeps log output of runnable examples deterministic.
//
// Handlers derived with WithAttrs and WithGroup share the index and writer.
type TestLogHandler struct {
	out    *output
	attrs  []slog.Attr
	groups []string

	ignorePrefixes []string
	ignoreDebug    bool
}

type output struct {
	mu    sync.Mutex
	w     io.Writer
	index int
}

// TestLogHandlerOption configures a TestLogHandler.
type TestLogHandlerOption func(*TestLogHandler)

// WithWriter sends output to w instead of stdout.
func WithWriter(w io.Writer) TestLogHandlerOption {
	return func(h *TestLogHandler) { h.out.w = w }
}

// WithIgnorePrefixes drops messages of any level starting with one of prefixes.
func WithIgnorePrefixes(prefixes ...string) TestLogHandlerOption {
	return func(h *TestLogHandler) {
		h.ignorePrefixes = append(h.ignorePrefixes, prefixes...)
	}
}

// WithIgnoreDebug drops DEBUG messages.
func WithIgnoreDebug() TestLogHandlerOption {
	return func(h *TestLogHandler) { h.ignoreDebug = true }
}

func NewTestLogHandler(opts ...TestLogHandlerOption) *TestLogHandler {
	h := &TestLogHandler{out: &output{w: os.Stdout}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TestLogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !(h.ignoreDebug && level == slog.LevelDebug)
}

//nolint:gocritic
func (h *TestLogHandler) Handle(_ context.Context, r slog.Record) error {
	for _, prefix := range h.ignorePrefixes {
		if strings.HasPrefix(r.Message, prefix) {
			return nil
		}
	}

	line := fmt.Sprintf("%s: %s", r.Level, r.Message)
	if attrs := h.format(&r); attrs != "" {
		line += " " + attrs
	}

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	_, err := fmt.Fprintf(h.out.w, "[%d] %s\n", h.out.index, line)
	h.out.index++
	return err
}

func (h *TestLogHandler) format(r *slog.Record) string {
	parts := make([]string, 0, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		parts = appendAttr(parts, "", a)
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		parts = appendAttr(parts, prefix, a)
		return true
	})
	return strings.Join(parts, ", ")
}

func appendAttr(parts []string, prefix string, a slog.Attr) []string {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			parts = appendAttr(parts, prefix+a.Key+".", ga)
		}
		return parts
	}
	return append(parts, fmt.Sprintf("%s%s=%v", prefix, a.Key, a.Value))
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

func (h *TestLogHandler) clone() *TestLogHandler {
	c := *h
	c.attrs = h.attrs[:len(h.attrs):len(h.attrs)]
	c.groups = h.groups[:len(h.groups):len(h.groups)]
	return &c
}

func (h *TestLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	prefix := groupPrefix(h.groups)
	for _, a := range attrs {
		a.Key = prefix + a.Key
		c.attrs = append(c.attrs, a)
	}
	return c
}

func (h *TestLogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.groups = append(c.groups, name)
	return c
}
