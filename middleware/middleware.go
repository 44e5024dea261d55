// Package middleware provides net/http middleware that wires incoming
// requests into the log pipeline: it extracts or creates a trace context,
// echoes the correlation headers on the response, and emits one structured
// entry per request with method, route, status, and duration.
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fieldserve/pulselog"
	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/trace"
)

// Options configures the request-logging middleware.
type Options struct {
	// Logger receives one entry per request. Required.
	Logger *pulselog.Logger

	// Component stamped onto request entries. Defaults to "http".
	Component string

	// SkipPaths are not logged at all, e.g. health checks.
	SkipPaths []string

	// LevelFunc maps the response status to an entry level. Defaults to
	// info for 2xx/3xx, warn for 4xx, error for 5xx.
	LevelFunc func(status int) core.Level

	// PanicHandler runs after a recovered panic has been logged. Nil means
	// a plain 500 response.
	PanicHandler func(w http.ResponseWriter, r *http.Request, v any)
}

func defaultLevelFunc(status int) core.Level {
	switch {
	case status >= 500:
		return core.ErrorLevel
	case status >= 400:
		return core.WarnLevel
	default:
		return core.InfoLevel
	}
}

// responseWriter captures the status code and byte count for the log entry.
type responseWriter struct {
	http.ResponseWriter
	status  int
	written bool
	size    int
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.status = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Middleware returns a handler wrapper that logs every request through the
// pipeline. It panics on a nil Logger since that is a wiring bug, not a
// runtime condition.
func Middleware(opts Options) func(http.Handler) http.Handler {
	if opts.Logger == nil {
		panic("middleware: Logger is required")
	}
	if opts.Component == "" {
		opts.Component = "http"
	}
	if opts.LevelFunc == nil {
		opts.LevelFunc = defaultLevelFunc
	}
	skip := make(map[string]bool, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			tc := trace.New(trace.ParseHeaders(r.Header))
			ctx := trace.WithContext(r.Context(), tc)
			w.Header().Set(trace.HeaderCorrelationID, tc.CorrelationID)

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				if v := recover(); v != nil {
					opts.Logger.Error(ctx, "request panicked",
						pulselog.Component(opts.Component),
						pulselog.Err(fmt.Errorf("panic: %v", v)),
						pulselog.HTTPRequest(r.Method, r.URL.Path, http.StatusInternalServerError),
						pulselog.Duration(time.Since(start)))
					if opts.PanicHandler != nil {
						opts.PanicHandler(w, r, v)
					} else if !rw.written {
						http.Error(w, "internal server error", http.StatusInternalServerError)
					}
				}
			}()

			next.ServeHTTP(rw, r.WithContext(ctx))

			elapsed := time.Since(start)
			level := opts.LevelFunc(rw.status)
			logRequest(ctx, opts.Logger, level, opts.Component, r, rw, elapsed)
		})
	}
}

func logRequest(ctx context.Context, log *pulselog.Logger, level core.Level, component string, r *http.Request, rw *responseWriter, elapsed time.Duration) {
	opts := []pulselog.EntryOption{
		pulselog.Component(component),
		pulselog.HTTPRequest(r.Method, r.URL.Path, rw.status),
		pulselog.Duration(elapsed),
		pulselog.ClientIP(clientIP(r)),
		pulselog.Data("responseBytes", rw.size),
	}

	msg := r.Method + " " + r.URL.Path
	switch level {
	case core.ErrorLevel:
		log.Error(ctx, msg, opts...)
	case core.WarnLevel:
		log.Warn(ctx, msg, opts...)
	default:
		log.Info(ctx, msg, opts...)
	}
}

// clientIP prefers the forwarded address when a proxy set one.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
