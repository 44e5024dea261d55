// Package audit records who did what to which resource. Audit entries are
// never sampled and never buffered: every call writes synchronously to the
// configured store so the trail stays complete even when the process dies
// right after.
package audit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fieldserve/pulselog/configuration"
	"github.com/fieldserve/pulselog/trace"
)

// Action is the verb of an audit entry.
type Action string

const (
	ActionCreate      Action = "create"
	ActionRead        Action = "read"
	ActionUpdate      Action = "update"
	ActionDelete      Action = "delete"
	ActionLogin       Action = "login"
	ActionLogout      Action = "logout"
	ActionFailedLogin Action = "failed_login"
	ActionExport      Action = "export"
	ActionImport      Action = "import"
	ActionPermission  Action = "permission_change"
	ActionConfig      Action = "config_change"
)

// Result is the outcome of the audited operation.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultDenied  Result = "denied"
)

// Entry is one immutable audit record. OldValue and NewValue are sanitized
// copies; secrets never reach the store.
type Entry struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	UserID        string         `json:"userId,omitempty"`
	SessionID     string         `json:"sessionId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Action        Action         `json:"action"`
	Resource      string         `json:"resource"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Result        Result         `json:"result"`
	Reason        string         `json:"reason,omitempty"`
	ClientIP      string         `json:"clientIp,omitempty"`
	OldValue      map[string]any `json:"oldValue,omitempty"`
	NewValue      map[string]any `json:"newValue,omitempty"`
}

// Store persists audit entries. Implementations must be safe for
// concurrent use.
type Store interface {
	Save(ctx context.Context, entry *Entry) error
	Query(ctx context.Context, filter Filter) ([]*Entry, error)
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) error
}

// Filter narrows a Query. Zero fields match everything; From and To bound
// the timestamp inclusively.
type Filter struct {
	UserID   string
	Action   Action
	Resource string
	Result   Result
	From     time.Time
	To       time.Time
	Offset   int
	Limit    int
}

// Logger writes audit entries. All Log methods are synchronous; the returned
// error is the store's.
type Logger struct {
	store    Store
	now      func() time.Time
	disabled bool
}

// Options configures an audit Logger.
type Options struct {
	// Store receives every entry. Defaults to an in-memory ring, which is
	// only appropriate for tests and single-process tools.
	Store Store

	// Disabled turns every Log method into a no-op. NewLogger also honors
	// the ENABLE_AUDIT_LOGGING environment flag.
	Disabled bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewLogger builds an audit logger backed by opts.Store.
func NewLogger(opts Options) *Logger {
	if opts.Store == nil {
		opts.Store = NewMemoryStore(0)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	disabled := opts.Disabled || !configuration.Load().EnableAuditLogging
	return &Logger{store: opts.Store, now: opts.Now, disabled: disabled}
}

// Record is the generic entry point: it stamps identity from the ambient
// trace context, sanitizes values, and saves synchronously.
func (l *Logger) Record(ctx context.Context, entry Entry) error {
	if l.disabled {
		return nil
	}
	entry.ID = uuid.NewString()
	entry.Timestamp = l.now()
	if tc := trace.FromContext(ctx); tc != nil {
		entry.CorrelationID = tc.CorrelationID
		if entry.UserID == "" {
			entry.UserID = tc.UserID
		}
		if entry.SessionID == "" {
			entry.SessionID = tc.SessionID
		}
	}
	entry.OldValue = Sanitize(entry.OldValue)
	entry.NewValue = Sanitize(entry.NewValue)
	return l.store.Save(ctx, &entry)
}

// LogUserAction records a state-changing action a user performed on a
// resource, with before and after snapshots.
func (l *Logger) LogUserAction(ctx context.Context, userID string, action Action, resource, resourceID string, result Result, oldValue, newValue map[string]any) error {
	return l.Record(ctx, Entry{
		UserID:     userID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Result:     result,
		OldValue:   oldValue,
		NewValue:   newValue,
	})
}

// LogDataAccess records a read of a resource.
func (l *Logger) LogDataAccess(ctx context.Context, userID, resource, resourceID string, result Result) error {
	return l.Record(ctx, Entry{
		UserID:     userID,
		Action:     ActionRead,
		Resource:   resource,
		ResourceID: resourceID,
		Result:     result,
	})
}

// LogAuthEvent records a login or logout attempt. Reason carries the denial
// or failure explanation.
func (l *Logger) LogAuthEvent(ctx context.Context, userID string, action Action, result Result, clientIP, reason string) error {
	return l.Record(ctx, Entry{
		UserID:   userID,
		Action:   action,
		Resource: "auth",
		Result:   result,
		ClientIP: clientIP,
		Reason:   reason,
	})
}

// LogConfigChange records a configuration mutation with before and after
// values.
func (l *Logger) LogConfigChange(ctx context.Context, userID, setting string, oldValue, newValue any, result Result) error {
	return l.Record(ctx, Entry{
		UserID:     userID,
		Action:     ActionConfig,
		Resource:   "config",
		ResourceID: setting,
		Result:     result,
		OldValue:   map[string]any{"value": oldValue},
		NewValue:   map[string]any{"value": newValue},
	})
}

// LogPermissionChange records a grant or revocation on a target user.
func (l *Logger) LogPermissionChange(ctx context.Context, actorID, targetUserID string, oldPerms, newPerms map[string]any, result Result) error {
	return l.Record(ctx, Entry{
		UserID:     actorID,
		Action:     ActionPermission,
		Resource:   "permissions",
		ResourceID: targetUserID,
		Result:     result,
		OldValue:   oldPerms,
		NewValue:   newPerms,
	})
}

// LogExport records a bulk data export.
func (l *Logger) LogExport(ctx context.Context, userID, resource string, recordCount int, result Result) error {
	return l.Record(ctx, Entry{
		UserID:   userID,
		Action:   ActionExport,
		Resource: resource,
		Result:   result,
		NewValue: map[string]any{"recordCount": recordCount},
	})
}

// LogImport records a bulk data import.
func (l *Logger) LogImport(ctx context.Context, userID, resource string, recordCount int, result Result) error {
	return l.Record(ctx, Entry{
		UserID:   userID,
		Action:   ActionImport,
		Resource: resource,
		Result:   result,
		NewValue: map[string]any{"recordCount": recordCount},
	})
}

// Query forwards to the store.
func (l *Logger) Query(ctx context.Context, filter Filter) ([]*Entry, error) {
	return l.store.Query(ctx, filter)
}

// sensitiveKeywords flags map keys whose values must never be persisted.
var sensitiveKeywords = []string{"password", "secret", "token", "apikey", "api_key", "credential", "authorization"}

// Sanitize returns a deep copy of value with sensitive fields replaced by
// "[REDACTED]". Key matching is case-insensitive substring; nested maps are
// sanitized recursively.
func Sanitize(value map[string]any) map[string]any {
	if value == nil {
		return nil
	}
	out := make(map[string]any, len(value))
	for k, v := range value {
		if sensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = Sanitize(nested)
			continue
		}
		out[k] = v
	}
	return out
}

func sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
