// Package tracing records lightweight timing spans for a single request.
// Spans form parent-child trees carried in the context and are logged as a
// single structured record once the root ends.
package tracing

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/logger"
)

type contextKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any
	mu        sync.Mutex
}

// StartSpan creates a root span whose trace ID is the request ID in ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{
		Name:      name,
		TraceID:   logger.RequestID(ctx),
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChildSpan creates a child of the span in ctx. Without a parent it
// behaves like StartSpan.
func StartChildSpan(ctx context.Context, name string) (context.Context, *Span) {
	parent := SpanFromContext(ctx)
	if parent == nil {
		return StartSpan(ctx, name)
	}
	child := &Span{
		Name:      name,
		TraceID:   parent.TraceID,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	parent.mu.Lock()
	parent.Children = append(parent.Children, child)
	parent.mu.Unlock()
	return context.WithValue(ctx, contextKey{}, child), child
}

// End records the span's duration.
func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

var slowThreshold atomic.Int64

// SetSlowThreshold makes Log report traces at least d long as warnings.
// Zero turns that off.
func SetSlowThreshold(d time.Duration) {
	slowThreshold.Store(int64(d))
}

// Log writes the whole tree as one record: the root's attributes at the top
// level and each child as a nested group keyed by its name. Traces slower
// than the threshold set by SetSlowThreshold are logged at warn, the rest at
// debug.
func (s *Span) Log() {
	s.mu.Lock()
	duration := s.Duration
	s.mu.Unlock()

	level := slog.LevelDebug
	if slow := time.Duration(slowThreshold.Load()); slow > 0 && duration >= slow {
		level = slog.LevelWarn
	}
	attrs := append([]slog.Attr{slog.String("trace_id", s.TraceID)}, s.attrs()...)
	slog.Default().LogAttrs(context.Background(), level, "trace", attrs...)
}

// attrs flattens the span into slog attributes with sorted keys.
func (s *Span) attrs() []slog.Attr {
	s.mu.Lock()
	out := []slog.Attr{
		slog.String("span", s.Name),
		slog.Int64("duration_us", s.Duration.Microseconds()),
	}
	for _, k := range slices.Sorted(maps.Keys(s.Attrs)) {
		out = append(out, slog.Any(k, s.Attrs[k]))
	}
	children := slices.Clone(s.Children)
	s.mu.Unlock()

	for _, child := range children {
		out = append(out, slog.Attr{Key: child.Name, Value: slog.GroupValue(child.attrs()...)})
	}
	return out
}
