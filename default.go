package pulselog

import (
	"context"
	"sync"
)

var (
	defaultMu     sync.Mutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, lazily constructing it from the
// environment on first use.
func Default() *Logger {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New()
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger. The previous logger, if any,
// is not shut down; the caller owns both lifetimes.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// ResetDefault shuts down and discards the process-wide logger so tests do
// not leak pipeline state into each other.
func ResetDefault(ctx context.Context) {
	defaultMu.Lock()
	l := defaultLogger
	defaultLogger = nil
	defaultMu.Unlock()
	if l != nil {
		l.Shutdown(ctx)
	}
}

// Trace logs at trace level on the default logger.
func Trace(ctx context.Context, msg string, opts ...EntryOption) {
	Default().Trace(ctx, msg, opts...)
}

// Debug logs at debug level on the default logger.
func Debug(ctx context.Context, msg string, opts ...EntryOption) {
	Default().Debug(ctx, msg, opts...)
}

// Info logs at info level on the default logger.
func Info(ctx context.Context, msg string, opts ...EntryOption) {
	Default().Info(ctx, msg, opts...)
}

// Warn logs at warn level on the default logger.
func Warn(ctx context.Context, msg string, opts ...EntryOption) {
	Default().Warn(ctx, msg, opts...)
}

// Error logs at error level on the default logger.
func Error(ctx context.Context, msg string, opts ...EntryOption) {
	Default().Error(ctx, msg, opts...)
}

// Fatal logs at fatal level on the default logger.
func Fatal(ctx context.Context, msg string, opts ...EntryOption) {
	Default().Fatal(ctx, msg, opts...)
}
