package buffer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pulselog/core"
)

func entry(msg string) *core.LogEntry {
	return &core.LogEntry{Level: core.InfoLevel, Message: msg}
}

// collector is a FlushFunc that records batches and can be told to fail.
type collector struct {
	mu      sync.Mutex
	batches [][]*core.LogEntry
	err     error
}

func (c *collector) flush(_ context.Context, batch []*core.LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	copied := make([]*core.LogEntry, len(batch))
	copy(copied, batch)
	c.batches = append(c.batches, copied)
	return nil
}

func (c *collector) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *collector) all() []*core.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*core.LogEntry
	for _, b := range c.batches {
		out = append(out, b...)
	}
	return out
}

func newTestBuffer(t *testing.T, opts Options) (*Buffer, *collector) {
	t.Helper()
	c := &collector{}
	if opts.OnFlush == nil {
		opts.OnFlush = c.flush
	}
	if opts.FlushInterval == 0 {
		// Keep the timer out of the way; tests flush explicitly.
		opts.FlushInterval = time.Hour
	}
	b := New(opts)
	t.Cleanup(func() { b.Shutdown(context.Background()) })
	return b, c
}

func TestFlushDeliversInOrder(t *testing.T) {
	b, c := newTestBuffer(t, Options{MaxSize: 10})

	b.Add(entry("one"))
	b.Add(entry("two"))
	b.Add(entry("three"))
	b.Flush(context.Background())

	got := c.all()
	require.Len(t, got, 3)
	assert.Equal(t, "one", got[0].Message)
	assert.Equal(t, "two", got[1].Message)
	assert.Equal(t, "three", got[2].Message)
	assert.Equal(t, uint64(3), b.Stats().Flushed)
}

func TestFullBufferEvictsOldest(t *testing.T) {
	b, c := newTestBuffer(t, Options{MaxSize: 3})

	for i := 1; i <= 4; i++ {
		b.Add(entry(fmt.Sprintf("e%d", i)))
	}
	b.Flush(context.Background())

	got := c.all()
	require.Len(t, got, 3)
	assert.Equal(t, "e2", got[0].Message)
	assert.Equal(t, "e4", got[2].Message)
	assert.Equal(t, uint64(1), b.Stats().Evicted)
}

func TestFailedFlushMovesToRetryQueue(t *testing.T) {
	b, c := newTestBuffer(t, Options{MaxSize: 10, MaxRetries: 3})
	c.fail(errors.New("sink down"))

	b.Add(entry("one"))
	b.Flush(context.Background())

	stats := b.Stats()
	assert.Equal(t, 1, stats.RetryQueueDepth)
	assert.Equal(t, uint64(1), stats.FlushFailures)
	assert.Zero(t, stats.Flushed)
	// Not re-inserted into the primary buffer.
	assert.Zero(t, stats.Size)
}

func TestRetrySucceedsAfterRecovery(t *testing.T) {
	now := time.Unix(1000, 0)
	b, c := newTestBuffer(t, Options{
		MaxSize:     10,
		BaseBackoff: time.Second,
		Now:         func() time.Time { return now },
	})
	c.fail(errors.New("sink down"))

	b.Add(entry("one"))
	b.Flush(context.Background())
	require.Equal(t, 1, b.Stats().RetryQueueDepth)

	c.fail(nil)

	// Backoff has not elapsed yet; the entry stays queued.
	b.Flush(context.Background())
	assert.Equal(t, 1, b.Stats().RetryQueueDepth)

	// Past the jittered first backoff (at most 1.1s) it is retried.
	now = now.Add(2 * time.Second)
	b.Flush(context.Background())
	assert.Zero(t, b.Stats().RetryQueueDepth)
	require.Len(t, c.all(), 1)
	assert.Equal(t, "one", c.all()[0].Message)
}

func TestRetryExhaustionDropsEntry(t *testing.T) {
	now := time.Unix(1000, 0)
	b, c := newTestBuffer(t, Options{
		MaxSize:     10,
		MaxRetries:  2,
		BaseBackoff: time.Millisecond,
		Now:         func() time.Time { return now },
	})
	c.fail(errors.New("sink down"))

	b.Add(entry("doomed"))
	b.Flush(context.Background()) // initial failure, attempts=1

	// Two retries are allowed; both fail, then the entry is dropped.
	for i := 0; i < 3; i++ {
		now = now.Add(time.Minute)
		b.Flush(context.Background())
	}

	stats := b.Stats()
	assert.Zero(t, stats.RetryQueueDepth)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Empty(t, c.all())
}

func TestRetryQueueEvictsOldestWhenFull(t *testing.T) {
	b, c := newTestBuffer(t, Options{
		MaxSize:           10,
		MaxRetryQueueSize: 2,
		MaxRetries:        5,
	})
	c.fail(errors.New("sink down"))

	for i := 1; i <= 3; i++ {
		b.Add(entry(fmt.Sprintf("e%d", i)))
		b.Flush(context.Background())
	}

	stats := b.Stats()
	assert.Equal(t, 2, stats.RetryQueueDepth)
	assert.Equal(t, uint64(1), stats.Dropped)
}

func TestShutdownFlushesRemaining(t *testing.T) {
	c := &collector{}
	b := New(Options{MaxSize: 10, FlushInterval: time.Hour, OnFlush: c.flush})

	b.Add(entry("last words"))
	b.Shutdown(context.Background())

	require.Len(t, c.all(), 1)
	assert.Equal(t, "last words", c.all()[0].Message)

	// A second Shutdown is a no-op.
	b.Shutdown(context.Background())
}

func TestIntervalFlush(t *testing.T) {
	c := &collector{}
	b := New(Options{MaxSize: 10, FlushInterval: 20 * time.Millisecond, OnFlush: c.flush})
	defer b.Shutdown(context.Background())

	b.Add(entry("timed"))

	assert.Eventually(t, func() bool {
		return len(c.all()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	base := time.Second

	assert.Equal(t, time.Second, Backoff(base, 1))
	assert.Equal(t, 2*time.Second, Backoff(base, 2))
	assert.Equal(t, 4*time.Second, Backoff(base, 3))
	assert.Equal(t, 16*time.Second, Backoff(base, 5))
	assert.Equal(t, 30*time.Second, Backoff(base, 6))
	assert.Equal(t, 30*time.Second, Backoff(base, 20))

	// Degenerate attempt counts behave like the first attempt.
	assert.Equal(t, time.Second, Backoff(base, 0))
}

func TestBackoffJitterStaysInBand(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 200; i++ {
		d := backoffWithJitter(base, 1)
		assert.GreaterOrEqual(t, d, 9*time.Second)
		assert.LessOrEqual(t, d, 11*time.Second)
	}
}

func TestConcurrentAdds(t *testing.T) {
	b, c := newTestBuffer(t, Options{MaxSize: 10000})

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.Add(entry("x"))
			}
		}()
	}
	wg.Wait()
	b.Flush(context.Background())

	assert.Len(t, c.all(), 800)
}
