// Package selflog provides internal diagnostic logging for the pipeline.
//
// The pipeline must never surface its own failures to application code, so
// anything that goes wrong internally (a sink rejecting a batch, a dropped
// retry entry, a misconfigured transport) is reported here instead of being
// silently discarded. Enable selflog when logs are not appearing where you
// expect them to.
//
// Enable output to stderr:
//
//	selflog.Enable(os.Stderr)
//	defer selflog.Disable()
//
// Or route messages to a callback:
//
//	selflog.EnableFunc(func(msg string) {
//	    fmt.Println("pulselog: " + msg)
//	})
//
// Messages are formatted as:
//
//	2025-01-29T15:30:45Z [component] message details
//
// Setting PULSELOG_SELFLOG enables output at startup: "stderr", "stdout",
// or a file path.
package selflog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var (
	outputWriter atomic.Pointer[io.Writer]
	outputFunc   atomic.Pointer[func(string)]
)

// Enable activates self-logging to the provided writer.
// The writer should be thread-safe or wrapped with Sync().
func Enable(w io.Writer) {
	if w == nil {
		return
	}
	outputFunc.Store(nil)
	outputWriter.Store(&w)
}

// EnableFunc activates self-logging using a callback function.
func EnableFunc(fn func(string)) {
	if fn == nil {
		return
	}
	outputWriter.Store(nil)
	outputFunc.Store(&fn)
}

// Disable deactivates self-logging.
func Disable() {
	outputWriter.Store(nil)
	outputFunc.Store(nil)
}

// Printf logs an internal diagnostic message. The format string should name
// the component in square brackets, e.g. "[buffer] flush failed: %v".
func Printf(format string, args ...any) {
	w := outputWriter.Load()
	fn := outputFunc.Load()
	if w == nil && fn == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	line := time.Now().UTC().Format(time.RFC3339) + " " + msg

	if w != nil {
		fmt.Fprintln(*w, line)
	} else if fn != nil {
		(*fn)(line)
	}
}

// IsEnabled returns true if selflog is currently enabled. Check it before
// formatting expensive messages:
//
//	if selflog.IsEnabled() {
//	    selflog.Printf("[http] dropped %d entries", n)
//	}
func IsEnabled() bool {
	return outputWriter.Load() != nil || outputFunc.Load() != nil
}

// syncWriter wraps an io.Writer to make it thread-safe.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Sync wraps a writer to make it thread-safe. Use this when enabling file
// output or other non-synchronized writers.
func Sync(w io.Writer) io.Writer {
	return &syncWriter{w: w}
}

func init() {
	if dest := os.Getenv("PULSELOG_SELFLOG"); dest != "" {
		switch dest {
		case "stderr":
			Enable(os.Stderr)
		case "stdout":
			Enable(os.Stdout)
		default:
			if f, err := os.OpenFile(dest, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644); err == nil {
				Enable(Sync(f))
			}
		}
	}
}
