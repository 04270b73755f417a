// Package logcapture provides an slog.Handler that records log
// entries in memory for test assertions, adapted from
// _examples/jpillora-sshd-lite/sshd/sshtest/log.
package logcapture

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Timestamp time.Time
	Level     slog.Level
	Message   string
	Attrs     map[string]any
}

// Contains reports whether the message contains text.
func (e Entry) Contains(text string) bool { return strings.Contains(e.Message, text) }

// Matches reports whether the entry is at level and contains text.
func (e Entry) Matches(level slog.Level, text string) bool {
	return e.Level == level && e.Contains(text)
}

func (e Entry) String() string {
	var sb strings.Builder
	sb.WriteString(e.Timestamp.Format("15:04:05.000"))
	sb.WriteString(" ")
	sb.WriteString(e.Level.String())
	sb.WriteString(" ")
	sb.WriteString(e.Message)
	for k, v := range e.Attrs {
		fmt.Fprintf(&sb, " %s=%v", k, v)
	}
	return sb.String()
}

// Capture collects every record written through its Logger.
type Capture struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewCapture returns an empty Capture.
func NewCapture() *Capture { return &Capture{} }

// Logger returns an slog.Logger whose output is recorded here.
func (c *Capture) Logger() *slog.Logger { return slog.New(&handler{capture: c}) }

func (c *Capture) add(e Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

// Assert fails with an error unless some entry contains text.
func (c *Capture) Assert(text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Contains(text) {
			return nil
		}
	}
	return fmt.Errorf("logcapture: no entry containing %q among %d entries", text, len(c.entries))
}

// AssertLevel is Assert scoped to a specific level.
func (c *Capture) AssertLevel(level slog.Level, text string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Matches(level, text) {
			return nil
		}
	}
	return fmt.Errorf("logcapture: no %s entry containing %q", level, text)
}

// All returns a copy of every captured entry.
func (c *Capture) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

type handler struct {
	capture *Capture
	attrs   []slog.Attr
}

func (h *handler) Enabled(context.Context, slog.Level) bool { return true }

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{Timestamp: r.Time, Level: r.Level, Message: r.Message, Attrs: map[string]any{}}
	for _, a := range h.attrs {
		e.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		e.Attrs[a.Key] = a.Value.Any()
		return true
	})
	h.capture.add(e)
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &handler{capture: h.capture, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *handler) WithGroup(string) slog.Handler { return h }

var _ slog.Handler = (*handler)(nil)
