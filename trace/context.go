// Package trace propagates request-scoped correlation identifiers through
// call chains using context.Context, Go's task-local storage. Every read
// operation degrades gracefully to "no context" rather than failing; this
// package must never be the cause of an application-visible error.
package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"maps"
	"time"

	"github.com/google/uuid"
)

// TraceContext carries the identifiers for one logical unit of work. It is
// created once per inbound request and propagated via context.Context so
// nested calls inherit it without explicit parameter threading. Child spans
// derive a fresh SpanID while keeping TraceID.
type TraceContext struct {
	// CorrelationID is an opaque identifier grouping all entries belonging
	// to one logical request, independent of any tracing standard.
	CorrelationID string

	// TraceID is a 16-byte hex W3C-compatible trace identifier.
	TraceID string

	// SpanID is an 8-byte hex identifier for one unit of work in the trace.
	SpanID string

	// ParentSpanID is the SpanID of the parent span, if any.
	ParentSpanID string

	UserID    string
	SessionID string

	// StartTime is when this unit of work began.
	StartTime time.Time

	// HTTP request metadata, when the unit of work is a request.
	HTTPMethod string
	HTTPRoute  string

	// Properties is an open map for ad-hoc key/value extensions.
	Properties map[string]any
}

// Options seeds a new TraceContext. Any unset identifier is generated.
type Options struct {
	CorrelationID string
	TraceID       string
	SpanID        string
	ParentSpanID  string
	UserID        string
	SessionID     string
	HTTPMethod    string
	HTTPRoute     string
}

// New creates a TraceContext, filling in any missing identifiers with
// freshly generated ones.
func New(opts Options) *TraceContext {
	tc := &TraceContext{
		CorrelationID: opts.CorrelationID,
		TraceID:       opts.TraceID,
		SpanID:        opts.SpanID,
		ParentSpanID:  opts.ParentSpanID,
		UserID:        opts.UserID,
		SessionID:     opts.SessionID,
		HTTPMethod:    opts.HTTPMethod,
		HTTPRoute:     opts.HTTPRoute,
		StartTime:     time.Now(),
	}
	if tc.CorrelationID == "" {
		tc.CorrelationID = uuid.NewString()
	}
	if tc.TraceID == "" {
		tc.TraceID = randomHex(16)
	}
	if tc.SpanID == "" {
		tc.SpanID = randomHex(8)
	}
	return tc
}

// traceContextKey is a private type for context keys to avoid collisions.
type traceContextKey struct{}

// WithContext returns a context carrying tc. Passing nil tc returns ctx
// unchanged.
func WithContext(ctx context.Context, tc *TraceContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if tc == nil {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey{}, tc)
}

// FromContext returns the TraceContext carried by ctx, or nil if none is
// active. It never panics, including on a nil context.
func FromContext(ctx context.Context) *TraceContext {
	if ctx == nil {
		return nil
	}
	tc, _ := ctx.Value(traceContextKey{}).(*TraceContext)
	return tc
}

// CorrelationID returns the active correlation ID, or "" if no context is
// active.
func CorrelationID(ctx context.Context) string {
	if tc := FromContext(ctx); tc != nil {
		return tc.CorrelationID
	}
	return ""
}

// UserID returns the active user ID, or "" if no context is active.
func UserID(ctx context.Context) string {
	if tc := FromContext(ctx); tc != nil {
		return tc.UserID
	}
	return ""
}

// Run executes fn with tc installed as the current trace context.
func Run(ctx context.Context, tc *TraceContext, fn func(ctx context.Context) error) error {
	return fn(WithContext(ctx, tc))
}

// ChildSpan returns a context carrying a child of the active trace context:
// a fresh SpanID, ParentSpanID set to the parent's SpanID, and all other
// fields copied. If no context is active, ctx is returned unchanged with a
// nil child.
func ChildSpan(ctx context.Context) (context.Context, *TraceContext) {
	parent := FromContext(ctx)
	if parent == nil {
		return ctx, nil
	}
	child := &TraceContext{
		CorrelationID: parent.CorrelationID,
		TraceID:       parent.TraceID,
		SpanID:        randomHex(8),
		ParentSpanID:  parent.SpanID,
		UserID:        parent.UserID,
		SessionID:     parent.SessionID,
		HTTPMethod:    parent.HTTPMethod,
		HTTPRoute:     parent.HTTPRoute,
		StartTime:     time.Now(),
	}
	if len(parent.Properties) > 0 {
		child.Properties = make(map[string]any, len(parent.Properties))
		maps.Copy(child.Properties, parent.Properties)
	}
	return WithContext(ctx, child), child
}

// randomHex returns n random bytes hex-encoded. crypto/rand never fails on
// supported platforms; on the impossible error path we fall back to a UUID
// so identifiers stay unique.
func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		u := uuid.New()
		return hex.EncodeToString(u[:n])
	}
	return hex.EncodeToString(buf)
}
