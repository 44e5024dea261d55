package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// SentryOptions configures the Sentry transport.
type SentryOptions struct {
	// DSN identifies the Sentry project. Empty disables the transport.
	DSN string

	Environment string
	Release     string

	// FlushTimeout bounds the final flush on Close. Defaults to 5s.
	FlushTimeout time.Duration

	// Client overrides the Sentry client, for tests.
	Client *sentry.Client
}

// Sentry sends error and fatal entries as primary events, with grouping
// fingerprints for deduplication; lower-level entries become breadcrumbs
// attached to the next event. A missing DSN degrades the transport to a
// disabled no-op.
type Sentry struct {
	opts SentryOptions

	mu    sync.Mutex
	hub   *sentry.Hub
	scope *sentry.Scope

	enabled bool
}

// NewSentry creates a Sentry transport.
func NewSentry(opts SentryOptions) *Sentry {
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}

	s := &Sentry{opts: opts}

	client := opts.Client
	if client == nil {
		if opts.DSN == "" {
			selflog.Printf("[sentry] dsn not configured, transport disabled")
			return s
		}
		var err error
		client, err = sentry.NewClient(sentry.ClientOptions{
			Dsn:         opts.DSN,
			Environment: opts.Environment,
			Release:     opts.Release,
		})
		if err != nil {
			selflog.Printf("[sentry] client init failed, transport disabled: %v", err)
			return s
		}
	}

	s.scope = sentry.NewScope()
	s.hub = sentry.NewHub(client, s.scope)
	s.enabled = true
	return s
}

func (s *Sentry) Name() string { return "sentry" }

// MinLevel is TraceLevel: lower-level entries are consumed as breadcrumbs,
// not discarded.
func (s *Sentry) MinLevel() core.Level { return core.TraceLevel }

func (s *Sentry) Enabled() bool { return s.enabled }

// Log processes a single entry.
func (s *Sentry) Log(entry *core.LogEntry) {
	_ = s.LogBatch(context.Background(), []*core.LogEntry{entry})
}

// LogBatch records sub-error entries as breadcrumbs and captures error and
// fatal entries as events. The SDK buffers internally, so delivery failures
// never surface here.
func (s *Sentry) LogBatch(_ context.Context, entries []*core.LogEntry) error {
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, entry := range entries {
		if entry.Level < core.ErrorLevel {
			s.scope.AddBreadcrumb(breadcrumbFor(entry), core.MaxBreadcrumbs)
			continue
		}
		s.hub.CaptureEvent(eventFor(entry))
		s.scope.ClearBreadcrumbs()
	}
	return nil
}

// Flush waits for the SDK to drain its internal queue.
func (s *Sentry) Flush(context.Context) error {
	if !s.enabled {
		return nil
	}
	s.hub.Flush(s.opts.FlushTimeout)
	return nil
}

// Close flushes and disables the transport.
func (s *Sentry) Close() error {
	if !s.enabled {
		return nil
	}
	s.hub.Flush(s.opts.FlushTimeout)
	s.mu.Lock()
	s.enabled = false
	s.mu.Unlock()
	return nil
}

func breadcrumbFor(entry *core.LogEntry) *sentry.Breadcrumb {
	category := ""
	if entry.Context != nil {
		category = entry.Context.Component
	}
	return &sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   entry.Message,
		Level:     sentryLevel(entry.Level),
		Timestamp: entry.Timestamp,
	}
}

// eventFor builds a Sentry event, fingerprinted on category, component, and
// message so recurring errors group into one issue.
func eventFor(entry *core.LogEntry) *sentry.Event {
	event := sentry.NewEvent()
	event.Timestamp = entry.Timestamp
	event.Level = sentryLevel(entry.Level)
	event.Message = entry.Message
	event.Environment = entry.Environment
	event.Release = entry.Version

	component := ""
	if entry.Context != nil {
		component = entry.Context.Component
		for k, v := range entry.Context.Tags {
			event.Tags[k] = v
		}
	}
	if component != "" {
		event.Tags["component"] = component
	}
	if entry.CorrelationID != "" {
		event.Tags["correlation_id"] = entry.CorrelationID
	}

	category := string(core.UnknownError)
	if entry.Error != nil {
		category = string(entry.Error.Category)
		event.Exception = []sentry.Exception{{
			Type:  entry.Error.Name,
			Value: entry.Error.Message,
		}}
	}
	event.Fingerprint = []string{category, component, entry.Message}
	return event
}

func sentryLevel(level core.Level) sentry.Level {
	switch level {
	case core.TraceLevel, core.DebugLevel:
		return sentry.LevelDebug
	case core.InfoLevel:
		return sentry.LevelInfo
	case core.WarnLevel:
		return sentry.LevelWarning
	case core.ErrorLevel:
		return sentry.LevelError
	case core.FatalLevel:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}
