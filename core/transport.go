package core

import "context"

// Transport delivers log entries to one destination.
//
// Implementations must never panic out of Log or LogBatch. A transport that
// cannot deliver should requeue internally and return nil; a non-nil error
// from LogBatch means the batch could not be handed off at all. A transport
// constructed from incomplete configuration (for example missing credentials)
// must report Enabled() == false and behave as a no-op rather than failing.
type Transport interface {
	// Name identifies the transport in configuration and diagnostics.
	Name() string

	// Log enqueues a single entry for delivery.
	Log(entry *LogEntry)

	// LogBatch enqueues a batch of entries for delivery.
	LogBatch(ctx context.Context, entries []*LogEntry) error

	// Flush forces delivery of anything buffered inside the transport.
	Flush(ctx context.Context) error

	// Close flushes and releases any resources held by the transport.
	Close() error

	// MinLevel is the minimum severity this transport forwards. Entries
	// below it are filtered out independently of the global sampler.
	MinLevel() Level

	// Enabled reports whether the transport is operational.
	Enabled() bool
}
