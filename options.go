package pulselog

import (
	"github.com/fieldserve/pulselog/buffer"
	"github.com/fieldserve/pulselog/configuration"
	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/sampling"
)

// Option configures a Logger at construction.
type Option func(*Logger)

// WithConfig replaces the environment-derived configuration.
func WithConfig(cfg *configuration.Config) Option {
	return func(l *Logger) {
		l.cfg = cfg
		l.minLevel = cfg.Level
		l.anonymizeIP = cfg.AnonymizeIP
	}
}

// WithServiceInfo overrides the identity stamped onto every entry.
func WithServiceInfo(name, environment, version string) Option {
	return func(l *Logger) {
		cfg := *l.cfg
		cfg.ServiceName = name
		cfg.Environment = environment
		cfg.ServiceVersion = version
		l.cfg = &cfg
	}
}

// WithMinLevel overrides the minimum severity the facade forwards.
func WithMinLevel(level core.Level) Option {
	return func(l *Logger) { l.minLevel = level }
}

// WithSampler replaces the admission sampler.
func WithSampler(s *sampling.Sampler) Option {
	return func(l *Logger) { l.sampler = s }
}

// WithBuffer replaces the batching buffer. The caller owns wiring the
// buffer's FlushFunc to the transports.
func WithBuffer(b *buffer.Buffer) Option {
	return func(l *Logger) { l.buf = b }
}

// WithTransports replaces the configuration-derived transport set.
func WithTransports(transports ...core.Transport) Option {
	return func(l *Logger) { l.transports = transports }
}

// WithAnonymizeIP overrides whether client IPs are masked at build time.
func WithAnonymizeIP(enabled bool) Option {
	return func(l *Logger) { l.anonymizeIP = enabled }
}

// WithAdaptiveSampling attaches a started adaptive controller regardless of
// the LOG_ADAPTIVE_SAMPLING flag.
func WithAdaptiveSampling() Option {
	return func(l *Logger) { l.forceAdaptive = true }
}
