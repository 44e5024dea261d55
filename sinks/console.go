package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// ANSI color codes for pretty console output, keyed by level.
var levelColors = map[core.Level]string{
	core.TraceLevel: "\x1b[90m", // bright black
	core.DebugLevel: "\x1b[36m", // cyan
	core.InfoLevel:  "\x1b[32m", // green
	core.WarnLevel:  "\x1b[33m", // yellow
	core.ErrorLevel: "\x1b[31m", // red
	core.FatalLevel: "\x1b[35m", // magenta
}

const colorReset = "\x1b[0m"

// ConsoleOptions configures the console transport.
type ConsoleOptions struct {
	// Output defaults to stdout.
	Output io.Writer

	// Pretty enables level-colored human-readable lines; otherwise each
	// entry is one raw JSON line.
	Pretty bool

	// MinLevel filters entries below this severity.
	MinLevel core.Level
}

// Console writes entries synchronously and immediately. It is the
// near-universal fallback sink and never requires configuration.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	pretty   bool
	minLevel core.Level
}

// NewConsole creates a console transport.
func NewConsole(opts ConsoleOptions) *Console {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	return &Console{
		out:      opts.Output,
		pretty:   opts.Pretty,
		minLevel: opts.MinLevel,
	}
}

func (c *Console) Name() string         { return "console" }
func (c *Console) MinLevel() core.Level { return c.minLevel }
func (c *Console) Enabled() bool        { return true }

// Log writes a single entry immediately.
func (c *Console) Log(entry *core.LogEntry) {
	c.write(entry)
}

// LogBatch writes each entry in order. Console delivery cannot be partially
// degraded, so the error is always nil.
func (c *Console) LogBatch(_ context.Context, entries []*core.LogEntry) error {
	for _, e := range entries {
		c.write(e)
	}
	return nil
}

// Flush is a no-op; console writes are synchronous.
func (c *Console) Flush(context.Context) error { return nil }

func (c *Console) Close() error { return nil }

func (c *Console) write(entry *core.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pretty {
		c.writePretty(entry)
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		if selflog.IsEnabled() {
			selflog.Printf("[console] marshal failed: %v", err)
		}
		return
	}
	fmt.Fprintln(c.out, string(data))
}

func (c *Console) writePretty(entry *core.LogEntry) {
	color := levelColors[entry.Level]
	header := fmt.Sprintf("%s[%s]%s", color, entry.Level, colorReset)
	ts := entry.Timestamp.Format(time.RFC3339)

	line := fmt.Sprintf("%s %s %s", ts, header, entry.Message)
	if entry.CorrelationID != "" {
		line += " (" + entry.CorrelationID + ")"
	}
	if entry.Context != nil && entry.Context.Component != "" {
		line += " component=" + entry.Context.Component
	}
	if entry.Error != nil {
		line += fmt.Sprintf(" error=%s[%s]: %s", entry.Error.Name, entry.Error.Category, entry.Error.Message)
	}
	fmt.Fprintln(c.out, line)
}
