package pulselog

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/trace"
)

// EntryBuilder assembles one normalized LogEntry through fluent chained
// calls. Enrichment — error categorization, IP anonymization, breadcrumb
// capping — happens at Build time, not at call time. The built entry is
// read-only; the builder itself must not be reused after Build.
type EntryBuilder struct {
	entry    core.LogEntry
	ctx      core.EntryContext
	levelSet bool

	anonymizeIP bool
	redact      bool
	redactMode  string
}

// NewEntry creates an empty builder. Service identity and redaction
// behavior are normally stamped by the Logger; standalone builders produce
// entries without identity fields.
func NewEntry() *EntryBuilder {
	return &EntryBuilder{}
}

// Level sets the entry severity.
func (b *EntryBuilder) Level(level core.Level) *EntryBuilder {
	b.entry.Level = level
	b.levelSet = true
	return b
}

// Message sets the log message.
func (b *EntryBuilder) Message(msg string) *EntryBuilder {
	b.entry.Message = msg
	return b
}

// Service sets the static service identity.
func (b *EntryBuilder) Service(name, environment, version string) *EntryBuilder {
	b.entry.Service = name
	b.entry.Environment = environment
	b.entry.Version = version
	return b
}

// Component names the emitting component.
func (b *EntryBuilder) Component(component string) *EntryBuilder {
	b.ctx.Component = component
	return b
}

// Action names the operation being performed.
func (b *EntryBuilder) Action(action string) *EntryBuilder {
	b.ctx.Action = action
	return b
}

// User attaches the acting user.
func (b *EntryBuilder) User(userID string) *EntryBuilder {
	b.ctx.UserID = userID
	return b
}

// Session attaches the session identifier.
func (b *EntryBuilder) Session(sessionID string) *EntryBuilder {
	b.ctx.SessionID = sessionID
	return b
}

// HTTP attaches request metadata.
func (b *EntryBuilder) HTTP(method, route string, status int) *EntryBuilder {
	b.ctx.HTTPMethod = method
	b.ctx.HTTPRoute = route
	b.ctx.HTTPStatus = status
	return b
}

// ClientIP attaches the caller's address. Anonymization, when enabled, is
// applied at Build time.
func (b *EntryBuilder) ClientIP(ip string) *EntryBuilder {
	b.ctx.ClientIP = ip
	return b
}

// AnonymizeIP controls whether Build masks the client IP.
func (b *EntryBuilder) AnonymizeIP(enabled bool) *EntryBuilder {
	b.anonymizeIP = enabled
	return b
}

// Redact controls whether Build scrubs sensitive keys out of attached data.
// Mode "remove" drops the pair entirely; any other mode masks the value.
func (b *EntryBuilder) Redact(enabled bool, mode string) *EntryBuilder {
	b.redact = enabled
	b.redactMode = mode
	return b
}

// Duration records how long the logged operation took.
func (b *EntryBuilder) Duration(d time.Duration) *EntryBuilder {
	b.ctx.DurationMs = float64(d) / float64(time.Millisecond)
	return b
}

// Data attaches one arbitrary structured value.
func (b *EntryBuilder) Data(key string, value any) *EntryBuilder {
	if b.ctx.Data == nil {
		b.ctx.Data = make(map[string]any)
	}
	b.ctx.Data[key] = value
	return b
}

// Tag attaches one flat string label.
func (b *EntryBuilder) Tag(key, value string) *EntryBuilder {
	if b.ctx.Tags == nil {
		b.ctx.Tags = make(map[string]string)
	}
	b.ctx.Tags[key] = value
	return b
}

// Breadcrumb appends one trail event. The trail is capped at
// core.MaxBreadcrumbs with the oldest evicted at Build time.
func (b *EntryBuilder) Breadcrumb(category, message string, data map[string]any) *EntryBuilder {
	b.ctx.Breadcrumbs = append(b.ctx.Breadcrumbs, core.Breadcrumb{
		Timestamp: time.Now(),
		Category:  category,
		Message:   message,
		Data:      data,
	})
	return b
}

// Metric attaches one numeric measurement.
func (b *EntryBuilder) Metric(name string, value float64) *EntryBuilder {
	if b.entry.Metrics == nil {
		b.entry.Metrics = make(map[string]float64)
	}
	b.entry.Metrics[name] = value
	return b
}

// Err attaches an error, categorized and graded at Build time. If no level
// has been set yet, the level becomes error; an explicitly set level is
// left alone.
func (b *EntryBuilder) Err(err error) *EntryBuilder {
	if err == nil {
		return b
	}
	b.entry.Error = errorInfoFor(err, string(debug.Stack()))
	if !b.levelSet {
		b.entry.Level = core.ErrorLevel
		b.levelSet = true
	}
	return b
}

// Build validates and assembles the final entry, copying trace identifiers
// from the ambient context in ctx. Missing level or message is a programmer
// error and returns *core.MissingFieldError.
func (b *EntryBuilder) Build(ctx context.Context) (*core.LogEntry, error) {
	if !b.levelSet {
		return nil, &core.MissingFieldError{Field: "level"}
	}
	if b.entry.Message == "" {
		return nil, &core.MissingFieldError{Field: "message"}
	}

	entry := b.entry
	entry.Timestamp = time.Now()

	if tc := trace.FromContext(ctx); tc != nil {
		entry.CorrelationID = tc.CorrelationID
		entry.TraceID = tc.TraceID
		entry.SpanID = tc.SpanID
		if b.ctx.UserID == "" {
			b.ctx.UserID = tc.UserID
		}
		if b.ctx.SessionID == "" {
			b.ctx.SessionID = tc.SessionID
		}
	}

	if b.anonymizeIP && b.ctx.ClientIP != "" {
		b.ctx.ClientIP = AnonymizeIP(b.ctx.ClientIP)
	}
	if b.redact && len(b.ctx.Data) > 0 {
		b.ctx.Data = RedactData(b.ctx.Data, b.redactMode)
	}

	if n := len(b.ctx.Breadcrumbs); n > core.MaxBreadcrumbs {
		b.ctx.Breadcrumbs = b.ctx.Breadcrumbs[n-core.MaxBreadcrumbs:]
	}

	// Empty contexts are pruned rather than serialized as {}.
	if !b.ctx.IsEmpty() {
		c := b.ctx
		entry.Context = &c
	}

	return &entry, nil
}

// MustBuild is Build for call sites that guarantee level and message are
// set; it panics on the programmer-error path.
func (b *EntryBuilder) MustBuild(ctx context.Context) *core.LogEntry {
	entry, err := b.Build(ctx)
	if err != nil {
		panic(err)
	}
	return entry
}
