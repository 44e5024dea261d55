// Package pulselog is a structured observability pipeline: leveled logging
// with trace-context propagation, admission sampling, bounded buffering with
// retry, and fan-out to pluggable transports.
//
// Application code talks to the Logger facade and nothing else:
//
//	log := pulselog.New()
//	defer log.Shutdown(context.Background())
//
//	log.Info(ctx, "visit scheduled",
//		pulselog.Component("visits"),
//		pulselog.Data("visitId", id))
//
// No logging method blocks the caller; delivery happens on the buffer's
// flush timer. Pipeline failures are contained — they surface as drop
// counters and retry-queue depth in Stats, never as errors to the caller.
package pulselog

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fieldserve/pulselog/buffer"
	"github.com/fieldserve/pulselog/configuration"
	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/sampling"
	"github.com/fieldserve/pulselog/selflog"
	"github.com/fieldserve/pulselog/sinks"
)

// EntryOption customizes one log entry at the call site.
type EntryOption func(*EntryBuilder)

// Component names the emitting component.
func Component(name string) EntryOption {
	return func(b *EntryBuilder) { b.Component(name) }
}

// Action names the operation being performed.
func Action(name string) EntryOption {
	return func(b *EntryBuilder) { b.Action(name) }
}

// User attaches the acting user.
func User(userID string) EntryOption {
	return func(b *EntryBuilder) { b.User(userID) }
}

// Err attaches a categorized error.
func Err(err error) EntryOption {
	return func(b *EntryBuilder) { b.Err(err) }
}

// Data attaches one structured value.
func Data(key string, value any) EntryOption {
	return func(b *EntryBuilder) { b.Data(key, value) }
}

// Tag attaches one flat string label.
func Tag(key, value string) EntryOption {
	return func(b *EntryBuilder) { b.Tag(key, value) }
}

// Duration records how long the logged operation took.
func Duration(d time.Duration) EntryOption {
	return func(b *EntryBuilder) { b.Duration(d) }
}

// HTTPRequest attaches request metadata.
func HTTPRequest(method, route string, status int) EntryOption {
	return func(b *EntryBuilder) { b.HTTP(method, route, status) }
}

// ClientIP attaches the caller's address, anonymized per configuration.
func ClientIP(ip string) EntryOption {
	return func(b *EntryBuilder) { b.ClientIP(ip) }
}

// Metric attaches one numeric measurement.
func Metric(name string, value float64) EntryOption {
	return func(b *EntryBuilder) { b.Metric(name, value) }
}

// Stats is the pipeline's operational snapshot.
type Stats struct {
	Sampler sampling.Stats
	Buffer  buffer.Stats
}

// Logger is the single call surface of the pipeline. It wires
// sampler, builder, buffer, and transports; it is safe for concurrent use
// and long-lived for the process lifetime.
type Logger struct {
	cfg *configuration.Config

	minLevel      core.Level
	component     string
	anonymizeIP   bool
	forceAdaptive bool

	sampler    *sampling.Sampler
	adaptive   *sampling.AdaptiveController
	buf        *buffer.Buffer
	transports []core.Transport

	closeOnce *sync.Once
	closed    chan struct{}
}

// New builds a logger from configuration and options. With no options the
// environment decides everything and the console transport is the fallback.
func New(opts ...Option) *Logger {
	cfg := configuration.Load()

	l := &Logger{
		cfg:         cfg,
		minLevel:    cfg.Level,
		anonymizeIP: cfg.AnonymizeIP,
		closeOnce:   &sync.Once{},
		closed:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	cfg = l.cfg

	if l.sampler == nil {
		l.sampler = sampling.NewSampler(sampling.Options{
			LevelRates:     cfg.LevelRates,
			RatePerSecond:  cfg.RateLimit,
			BurstAllowance: cfg.BurstAllowance,
		})
	}
	if l.transports == nil {
		l.transports = sinks.NewRegistry().Build(cfg)
	}
	if l.buf == nil {
		transports := l.transports
		l.buf = buffer.New(buffer.Options{
			MaxSize:           cfg.BufferSize,
			FlushInterval:     cfg.FlushInterval,
			MaxRetryQueueSize: cfg.MaxRetryQueue,
			MaxRetries:        cfg.MaxRetries,
			BaseBackoff:       cfg.BackoffBase,
			OnFlush: func(ctx context.Context, batch []*core.LogEntry) error {
				return sinks.Dispatch(ctx, transports, batch)
			},
		})
	}
	if (cfg.EnableAdaptive || l.forceAdaptive) && l.adaptive == nil {
		l.adaptive = sampling.NewAdaptiveController(l.sampler)
		l.adaptive.Start()
	}

	return l
}

// With returns a logger that stamps component onto every entry. The child
// shares the parent's pipeline.
func (l *Logger) With(component string) *Logger {
	child := *l
	child.component = component
	return &child
}

// Trace logs at trace level.
func (l *Logger) Trace(ctx context.Context, msg string, opts ...EntryOption) {
	l.log(ctx, core.TraceLevel, msg, opts)
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, opts ...EntryOption) {
	l.log(ctx, core.DebugLevel, msg, opts)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, opts ...EntryOption) {
	l.log(ctx, core.InfoLevel, msg, opts)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, opts ...EntryOption) {
	l.log(ctx, core.WarnLevel, msg, opts)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, opts ...EntryOption) {
	l.log(ctx, core.ErrorLevel, msg, opts)
}

// Fatal logs at fatal level. It does not exit the process; fatal entries
// bypass sampling but otherwise flow through the same pipeline.
func (l *Logger) Fatal(ctx context.Context, msg string, opts ...EntryOption) {
	l.log(ctx, core.FatalLevel, msg, opts)
}

func (l *Logger) log(ctx context.Context, level core.Level, msg string, opts []EntryOption) {
	if level < l.minLevel {
		return
	}

	b := NewEntry().
		Level(level).
		Message(msg).
		Service(l.cfg.ServiceName, l.cfg.Environment, l.cfg.ServiceVersion).
		AnonymizeIP(l.anonymizeIP).
		Redact(l.cfg.RedactionEnabled, l.cfg.RedactionMode)
	if l.component != "" {
		b.Component(l.component)
	}
	for _, opt := range opts {
		opt(b)
	}

	entry, err := b.Build(ctx)
	if err != nil {
		// Level and message are always set here; reaching this means a
		// bug in the facade itself.
		selflog.Printf("[logger] entry build failed: %v", err)
		return
	}

	if !l.sampler.ShouldSample(entry) {
		return
	}
	l.buf.Add(entry)
}

// Flush forces delivery of everything buffered, through to the transports.
func (l *Logger) Flush(ctx context.Context) {
	l.buf.Flush(ctx)
	for _, t := range l.transports {
		if t.Enabled() {
			if err := t.Flush(ctx); err != nil && selflog.IsEnabled() {
				selflog.Printf("[logger] %s flush failed: %v", t.Name(), err)
			}
		}
	}
}

// Stats returns the pipeline's operational counters.
func (l *Logger) Stats() Stats {
	return Stats{
		Sampler: l.sampler.Stats(),
		Buffer:  l.buf.Stats(),
	}
}

// Shutdown stops background work and performs one final best-effort flush
// before closing the transports. Safe to call more than once.
func (l *Logger) Shutdown(ctx context.Context) {
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.adaptive != nil {
			l.adaptive.Stop()
		}
		l.buf.Shutdown(ctx)
		for _, t := range l.transports {
			if err := t.Close(); err != nil && selflog.IsEnabled() {
				selflog.Printf("[logger] %s close failed: %v", t.Name(), err)
			}
		}
	})
}

// WatchSignals installs a handler that shuts the logger down on SIGINT or
// SIGTERM, so buffered entries get one final flush on process termination.
func (l *Logger) WatchSignals() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			l.Shutdown(ctx)
		case <-l.closed:
		}
		signal.Stop(ch)
	}()
}
