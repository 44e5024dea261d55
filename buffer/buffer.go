// Package buffer batches log entries for transport dispatch while bounding
// memory and surviving transient sink failures. The primary buffer is a
// bounded ring that evicts the oldest entry rather than back-pressuring the
// caller; failed flushes land in a bounded retry queue with exponential
// backoff and jitter.
package buffer

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// FlushFunc delivers a batch of entries to the transports. A non-nil error
// moves the attempted entries onto the retry queue.
type FlushFunc func(ctx context.Context, entries []*core.LogEntry) error

// maxBackoff caps the retry delay regardless of attempt count.
const maxBackoff = 30 * time.Second

// Options configures a Buffer. Zero values select the defaults.
type Options struct {
	// MaxSize bounds the primary ring buffer. Defaults to 1000.
	MaxSize int

	// FlushInterval is how often buffered entries are flushed.
	// Defaults to 5s.
	FlushInterval time.Duration

	// MaxRetryQueueSize bounds the retry queue. Defaults to 500.
	MaxRetryQueueSize int

	// MaxRetries is how many delivery retries an entry gets after its
	// first failed flush before being dropped. Defaults to 3.
	MaxRetries int

	// BaseBackoff seeds the exponential retry delay. Defaults to 1s.
	BaseBackoff time.Duration

	// OnFlush delivers batches. Required.
	OnFlush FlushFunc

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Stats is a read-only snapshot of the buffer for operational visibility.
type Stats struct {
	Size            int
	Capacity        int
	RetryQueueDepth int

	// Evicted counts entries pushed out of the full primary buffer.
	Evicted uint64

	// Dropped counts entries that exhausted their retries.
	Dropped uint64

	// Flushed counts entries successfully delivered.
	Flushed uint64

	// FlushFailures counts failed delivery attempts.
	FlushFailures uint64
}

// retryEntry is one entry waiting on the retry queue.
type retryEntry struct {
	entry       *core.LogEntry
	attempts    int
	nextAttempt time.Time
}

// Buffer is a bounded batching queue in front of the transports.
// It is safe for concurrent use; Add never blocks the caller.
type Buffer struct {
	mu sync.Mutex

	ring  []*core.LogEntry
	head  int
	count int

	retry []retryEntry

	opts    Options
	onFlush FlushFunc
	now     func() time.Time

	evicted       atomic.Uint64
	dropped       atomic.Uint64
	flushed       atomic.Uint64
	flushFailures atomic.Uint64

	isFlushing atomic.Bool

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a buffer and starts its flush timer.
func New(opts Options) *Buffer {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 5 * time.Second
	}
	if opts.MaxRetryQueueSize <= 0 {
		opts.MaxRetryQueueSize = 500
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OnFlush == nil {
		opts.OnFlush = func(context.Context, []*core.LogEntry) error { return nil }
	}

	b := &Buffer{
		ring:    make([]*core.LogEntry, opts.MaxSize),
		opts:    opts,
		onFlush: opts.OnFlush,
		now:     opts.Now,
		stopCh:  make(chan struct{}),
	}

	b.wg.Add(1)
	go b.run()

	return b
}

// Add enqueues an entry. When the buffer is full the oldest entry is evicted
// and counted; the caller is never blocked.
func (b *Buffer) Add(entry *core.LogEntry) {
	b.mu.Lock()
	if b.count == len(b.ring) {
		// Evict oldest.
		b.ring[b.head] = nil
		b.head = (b.head + 1) % len(b.ring)
		b.count--
		b.evicted.Add(1)
		if selflog.IsEnabled() {
			evicted := b.evicted.Load()
			if evicted == 1 || evicted%1000 == 0 {
				selflog.Printf("[buffer] full, evicted %d entries total", evicted)
			}
		}
	}
	b.ring[(b.head+b.count)%len(b.ring)] = entry
	b.count++
	b.mu.Unlock()
}

// Flush drains eligible retry entries and then the primary buffer through
// the configured FlushFunc. A flush already in progress makes this call a
// no-op, so a timer firing mid-flush cannot double-send.
func (b *Buffer) Flush(ctx context.Context) {
	if !b.isFlushing.CompareAndSwap(false, true) {
		return
	}
	defer b.isFlushing.Store(false)

	b.flushRetries(ctx)

	batch := b.drain()
	if len(batch) == 0 {
		return
	}

	if err := b.onFlush(ctx, batch); err != nil {
		b.flushFailures.Add(1)
		if selflog.IsEnabled() {
			selflog.Printf("[buffer] flush of %d entries failed: %v", len(batch), err)
		}
		b.requeue(batch, 1)
		return
	}
	b.flushed.Add(uint64(len(batch)))
}

// drain removes and returns everything in the primary ring, oldest first.
func (b *Buffer) drain() []*core.LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}
	batch := make([]*core.LogEntry, 0, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.head + i) % len(b.ring)
		batch = append(batch, b.ring[idx])
		b.ring[idx] = nil
	}
	b.head = 0
	b.count = 0
	return batch
}

// flushRetries attempts delivery of retry-queue entries whose backoff has
// elapsed. Entries that fail again are requeued with an incremented attempt
// counter or dropped once they exceed MaxRetries.
func (b *Buffer) flushRetries(ctx context.Context) {
	now := b.now()

	b.mu.Lock()
	var due []retryEntry
	var waiting []retryEntry
	for _, re := range b.retry {
		if !re.nextAttempt.After(now) {
			due = append(due, re)
		} else {
			waiting = append(waiting, re)
		}
	}
	b.retry = waiting
	b.mu.Unlock()

	if len(due) == 0 {
		return
	}

	batch := make([]*core.LogEntry, len(due))
	for i, re := range due {
		batch[i] = re.entry
	}

	if err := b.onFlush(ctx, batch); err == nil {
		b.flushed.Add(uint64(len(batch)))
		return
	}
	b.flushFailures.Add(1)

	for _, re := range due {
		attempts := re.attempts + 1
		if attempts > b.opts.MaxRetries {
			b.dropped.Add(1)
			if selflog.IsEnabled() {
				selflog.Printf("[buffer] entry dropped after %d attempts", re.attempts)
			}
			continue
		}
		b.enqueueRetry(re.entry, attempts)
	}
}

// requeue places freshly failed entries on the retry queue. They are not
// re-inserted into the primary buffer, to avoid head-of-line blocking fresh
// traffic.
func (b *Buffer) requeue(entries []*core.LogEntry, attempts int) {
	for _, e := range entries {
		if attempts > b.opts.MaxRetries {
			b.dropped.Add(1)
			continue
		}
		b.enqueueRetry(e, attempts)
	}
}

func (b *Buffer) enqueueRetry(entry *core.LogEntry, attempts int) {
	next := b.now().Add(backoffWithJitter(b.opts.BaseBackoff, attempts))

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.retry) >= b.opts.MaxRetryQueueSize {
		// FIFO eviction of the oldest retry entry.
		b.retry = b.retry[1:]
		b.dropped.Add(1)
	}
	b.retry = append(b.retry, retryEntry{
		entry:       entry,
		attempts:    attempts,
		nextAttempt: next,
	})
}

// Stats returns a snapshot of the buffer's state and counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	size := b.count
	capacity := len(b.ring)
	retryDepth := len(b.retry)
	b.mu.Unlock()

	return Stats{
		Size:            size,
		Capacity:        capacity,
		RetryQueueDepth: retryDepth,
		Evicted:         b.evicted.Load(),
		Dropped:         b.dropped.Load(),
		Flushed:         b.flushed.Load(),
		FlushFailures:   b.flushFailures.Load(),
	}
}

// Shutdown stops the flush timer and performs one final best-effort flush.
func (b *Buffer) Shutdown(ctx context.Context) {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
	b.Flush(ctx)
}

// run is the background loop driving interval flushes.
func (b *Buffer) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.Flush(context.Background())
		}
	}
}

// Backoff returns the retry delay before jitter for the given attempt count:
// base doubled per prior attempt, capped at 30 seconds.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// backoffWithJitter applies a +/-10% jitter to the base backoff so failed
// sinks do not see synchronized retry storms.
func backoffWithJitter(base time.Duration, attempts int) time.Duration {
	d := Backoff(base, attempts)
	jitter := 0.9 + 0.2*rand.Float64()
	return time.Duration(float64(d) * jitter)
}
