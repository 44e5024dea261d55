package sinks

import (
	"context"
	"sync"

	"github.com/fieldserve/pulselog/core"
)

// Memory is an in-memory transport for testing. It records everything it
// receives and can be told to fail, to exercise retry paths.
type Memory struct {
	mu      sync.Mutex
	entries []*core.LogEntry
	flushes int
	failErr error

	minLevel core.Level
}

// NewMemory creates a memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Name() string         { return "memory" }
func (m *Memory) MinLevel() core.Level { return m.minLevel }
func (m *Memory) Enabled() bool        { return true }

// SetMinLevel adjusts the transport's severity filter.
func (m *Memory) SetMinLevel(level core.Level) {
	m.mu.Lock()
	m.minLevel = level
	m.mu.Unlock()
}

// Fail makes subsequent LogBatch calls return err. Pass nil to recover.
func (m *Memory) Fail(err error) {
	m.mu.Lock()
	m.failErr = err
	m.mu.Unlock()
}

func (m *Memory) Log(entry *core.LogEntry) {
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
}

func (m *Memory) LogBatch(_ context.Context, entries []*core.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.entries = append(m.entries, entries...)
	m.flushes++
	return nil
}

func (m *Memory) Flush(context.Context) error { return nil }
func (m *Memory) Close() error                { return nil }

// Entries returns a copy of everything recorded so far.
func (m *Memory) Entries() []*core.LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*core.LogEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Flushes returns how many successful LogBatch calls were recorded.
func (m *Memory) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Clear discards recorded entries.
func (m *Memory) Clear() {
	m.mu.Lock()
	m.entries = nil
	m.flushes = 0
	m.mu.Unlock()
}
