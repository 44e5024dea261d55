package trace

import (
	"context"
	"net/http"
	"strings"
)

// Propagation header names. Correlation IDs accept both the custom header
// and the common x-request-id alias on the inbound side.
const (
	HeaderCorrelationID = "X-Correlation-Id"
	HeaderRequestID     = "X-Request-Id"
	HeaderTraceparent   = "Traceparent"
	HeaderUserID        = "X-User-Id"
	HeaderSessionID     = "X-Session-Id"
)

// ParseHeaders extracts trace identifiers from inbound request headers.
// Malformed or absent headers yield an empty partial result, never an error.
// A W3C traceparent contributes the trace ID and sets the upstream span as
// the parent span.
func ParseHeaders(h http.Header) Options {
	var opts Options
	if h == nil {
		return opts
	}

	if v := h.Get(HeaderCorrelationID); v != "" {
		opts.CorrelationID = v
	} else if v := h.Get(HeaderRequestID); v != "" {
		opts.CorrelationID = v
	}

	if traceID, parentID, ok := parseTraceparent(h.Get(HeaderTraceparent)); ok {
		opts.TraceID = traceID
		opts.ParentSpanID = parentID
	}

	opts.UserID = h.Get(HeaderUserID)
	opts.SessionID = h.Get(HeaderSessionID)
	return opts
}

// BuildHeaders serializes the active trace context into propagation headers
// for outbound calls, omitting fields that are unset. With no active context
// it returns an empty header set.
func BuildHeaders(ctx context.Context) http.Header {
	h := http.Header{}
	tc := FromContext(ctx)
	if tc == nil {
		return h
	}

	if tc.CorrelationID != "" {
		h.Set(HeaderCorrelationID, tc.CorrelationID)
	}
	if tc.TraceID != "" && tc.SpanID != "" {
		h.Set(HeaderTraceparent, "00-"+tc.TraceID+"-"+tc.SpanID+"-01")
	}
	if tc.UserID != "" {
		h.Set(HeaderUserID, tc.UserID)
	}
	if tc.SessionID != "" {
		h.Set(HeaderSessionID, tc.SessionID)
	}
	return h
}

// parseTraceparent splits a W3C traceparent value of the form
// {version}-{traceId}-{parentId}-{flags}. The all-zero trace and parent IDs
// are reserved by the format and rejected.
func parseTraceparent(v string) (traceID, parentID string, ok bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", "", false
	}
	parts := strings.Split(v, "-")
	if len(parts) != 4 {
		return "", "", false
	}
	if len(parts[0]) != 2 || len(parts[1]) != 32 || len(parts[2]) != 16 || len(parts[3]) != 2 {
		return "", "", false
	}
	if !isLowerHex(parts[0]) || !isLowerHex(parts[1]) || !isLowerHex(parts[2]) || !isLowerHex(parts[3]) {
		return "", "", false
	}
	if parts[1] == strings.Repeat("0", 32) || parts[2] == strings.Repeat("0", 16) {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func isLowerHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
