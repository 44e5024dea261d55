package core

import "time"

// MaxBreadcrumbs is the cap on the breadcrumb trail carried by one entry.
// Oldest breadcrumbs are evicted once the cap is reached.
const MaxBreadcrumbs = 10

// LogEntry is the immutable unit shipped to transports. It is built once via
// the entry builder and must not be mutated after being handed to the buffer.
type LogEntry struct {
	// Timestamp is when the entry was built, serialized as ISO-8601.
	Timestamp time.Time `json:"timestamp"`

	// Level is the severity of the entry.
	Level Level `json:"level"`

	// Message is the human-readable log message.
	Message string `json:"message"`

	// Service, Environment, and Version identify the emitting process.
	Service     string `json:"service,omitempty"`
	Environment string `json:"environment,omitempty"`
	Version     string `json:"version,omitempty"`

	// CorrelationID, TraceID, and SpanID are copied from the ambient trace
	// context at build time, or empty if no context was active.
	CorrelationID string `json:"correlationId,omitempty"`
	TraceID       string `json:"traceId,omitempty"`
	SpanID        string `json:"spanId,omitempty"`

	// Context carries structured call-site detail. Nil when empty.
	Context *EntryContext `json:"context,omitempty"`

	// Error carries categorized error detail, if any.
	Error *ErrorInfo `json:"error,omitempty"`

	// Metrics carries arbitrary numeric measurements attached to the entry.
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// EntryContext holds the structured context attached to a log entry.
type EntryContext struct {
	Component string `json:"component,omitempty"`
	Action    string `json:"action,omitempty"`
	UserID    string `json:"userId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`

	// HTTP request metadata, when the entry relates to a request.
	HTTPMethod string `json:"httpMethod,omitempty"`
	HTTPRoute  string `json:"httpRoute,omitempty"`
	HTTPStatus int    `json:"httpStatus,omitempty"`

	// ClientIP is the caller's address, anonymized when configured.
	ClientIP string `json:"clientIp,omitempty"`

	// DurationMs is how long the logged operation took.
	DurationMs float64 `json:"durationMs,omitempty"`

	// Data holds arbitrary structured values.
	Data map[string]any `json:"data,omitempty"`

	// Tags holds flat string labels.
	Tags map[string]string `json:"tags,omitempty"`

	// Breadcrumbs is the trail of recent events leading up to this entry,
	// capped at MaxBreadcrumbs with oldest-first eviction.
	Breadcrumbs []Breadcrumb `json:"breadcrumbs,omitempty"`
}

// IsEmpty reports whether the context carries no information at all.
// Empty contexts are pruned from built entries.
func (c *EntryContext) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.Component == "" && c.Action == "" && c.UserID == "" &&
		c.SessionID == "" && c.HTTPMethod == "" && c.HTTPRoute == "" &&
		c.HTTPStatus == 0 && c.ClientIP == "" && c.DurationMs == 0 &&
		len(c.Data) == 0 && len(c.Tags) == 0 && len(c.Breadcrumbs) == 0
}

// Breadcrumb records one lightweight trail event preceding an entry.
type Breadcrumb struct {
	Timestamp time.Time      `json:"timestamp"`
	Category  string         `json:"category,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

// ErrorInfo is the categorized error detail attached to a log entry.
// Cause chains recursively for wrapped errors.
type ErrorInfo struct {
	Name          string        `json:"name"`
	Message       string        `json:"message"`
	Stack         string        `json:"stack,omitempty"`
	Category      ErrorCategory `json:"category"`
	Impact        ErrorImpact   `json:"impact"`
	IsRecoverable bool          `json:"isRecoverable"`
	Cause         *ErrorInfo    `json:"cause,omitempty"`
}

// MissingFieldError is returned by the entry builder when a required field
// was not set before Build. It indicates programmer error at the call site.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return "log entry is missing required field " + e.Field
}
