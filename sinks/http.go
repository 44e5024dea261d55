package sinks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/selflog"
)

// authKind selects the HTTP authentication scheme.
type authKind int

const (
	authNone authKind = iota
	authBearer
	authBasic
	authAPIKey
)

// HTTPOption configures the HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPBatchSize sets how many entries are sent per request.
func WithHTTPBatchSize(size int) HTTPOption {
	return func(h *HTTP) {
		if size > 0 {
			h.batchSize = size
		}
	}
}

// WithHTTPTimeout bounds each delivery request.
func WithHTTPTimeout(timeout time.Duration) HTTPOption {
	return func(h *HTTP) {
		if timeout > 0 {
			h.timeout = timeout
		}
	}
}

// WithHTTPFlushInterval sets how often pending entries are sent regardless
// of batch size.
func WithHTTPFlushInterval(interval time.Duration) HTTPOption {
	return func(h *HTTP) {
		if interval > 0 {
			h.flushInterval = interval
		}
	}
}

// WithHTTPBearerAuth authenticates with a bearer token.
func WithHTTPBearerAuth(token string) HTTPOption {
	return func(h *HTTP) {
		h.auth = authBearer
		h.token = token
	}
}

// WithHTTPBasicAuth authenticates with username and password.
func WithHTTPBasicAuth(user, pass string) HTTPOption {
	return func(h *HTTP) {
		h.auth = authBasic
		h.user = user
		h.pass = pass
	}
}

// WithHTTPAPIKey authenticates with an X-Api-Key header.
func WithHTTPAPIKey(key string) HTTPOption {
	return func(h *HTTP) {
		h.auth = authAPIKey
		h.token = key
	}
}

// WithHTTPTransformer replaces the payload encoding. The default is a JSON
// array of entries.
func WithHTTPTransformer(t PayloadTransformer) HTTPOption {
	return func(h *HTTP) {
		if t != nil {
			h.transform = t
		}
	}
}

// WithHTTPHeader adds a static header to every delivery request, for sinks
// with vendor-specific auth schemes.
func WithHTTPHeader(key, value string) HTTPOption {
	return func(h *HTTP) {
		if h.headers == nil {
			h.headers = make(map[string]string)
		}
		h.headers[key] = value
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) {
		if client != nil {
			h.client = client
		}
	}
}

// WithHTTPMinLevel filters entries below this severity.
func WithHTTPMinLevel(level core.Level) HTTPOption {
	return func(h *HTTP) {
		h.minLevel = level
	}
}

// HTTP posts batches of entries to a single endpoint. Delivery failures are
// contained: the failed batch is requeued into a sink-local bounded buffer
// (capped at ten times the batch size, oldest evicted) and retried on the
// next cycle, so LogBatch never reports an error for a transient outage.
type HTTP struct {
	endpoint  string
	client    *http.Client
	transform PayloadTransformer

	auth    authKind
	token   string
	user    string
	pass    string
	headers map[string]string

	batchSize     int
	timeout       time.Duration
	flushInterval time.Duration
	minLevel      core.Level

	mu      sync.Mutex
	pending []*core.LogEntry
	dropped uint64

	stopCh   chan struct{}
	flushCh  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	enabled bool
}

// NewHTTP creates an HTTP transport. An empty endpoint yields a disabled
// no-op transport.
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint:      endpoint,
		client:        &http.Client{},
		transform:     JSONTransformer(),
		batchSize:     100,
		timeout:       10 * time.Second,
		flushInterval: 5 * time.Second,
		stopCh:        make(chan struct{}),
		flushCh:       make(chan struct{}, 1),
		enabled:       endpoint != "",
	}
	for _, opt := range opts {
		opt(h)
	}

	if !h.enabled {
		selflog.Printf("[http] no endpoint configured, transport disabled")
		return h
	}

	h.wg.Add(1)
	go h.worker()
	return h
}

func (h *HTTP) Name() string         { return "http" }
func (h *HTTP) MinLevel() core.Level { return h.minLevel }
func (h *HTTP) Enabled() bool        { return h.enabled }

// Log enqueues a single entry.
func (h *HTTP) Log(entry *core.LogEntry) {
	_ = h.LogBatch(context.Background(), []*core.LogEntry{entry})
}

// LogBatch enqueues entries into the sink-local buffer, signaling the worker
// once a full batch is pending.
func (h *HTTP) LogBatch(_ context.Context, entries []*core.LogEntry) error {
	if !h.enabled {
		return nil
	}

	h.mu.Lock()
	h.pending = append(h.pending, entries...)
	if over := len(h.pending) - h.capacity(); over > 0 {
		h.pending = h.pending[over:]
		h.dropped += uint64(over)
		if selflog.IsEnabled() {
			selflog.Printf("[http] local buffer full, dropped %d entries (total %d)", over, h.dropped)
		}
	}
	shouldFlush := len(h.pending) >= h.batchSize
	h.mu.Unlock()

	if shouldFlush {
		select {
		case h.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush forces delivery of everything pending.
func (h *HTTP) Flush(ctx context.Context) error {
	if !h.enabled {
		return nil
	}
	h.sendPending(ctx)
	return nil
}

// Close flushes pending entries and stops the worker.
func (h *HTTP) Close() error {
	if !h.enabled {
		return nil
	}
	h.stopOnce.Do(func() { close(h.stopCh) })
	h.wg.Wait()
	return nil
}

func (h *HTTP) capacity() int { return 10 * h.batchSize }

func (h *HTTP) worker() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			h.sendPending(context.Background())
			return
		case <-ticker.C:
			h.sendPending(context.Background())
		case <-h.flushCh:
			h.sendPending(context.Background())
		}
	}
}

// sendPending drains the local buffer in batch-size chunks. A failed chunk
// goes back to the front of the buffer and delivery stops until the next
// cycle.
func (h *HTTP) sendPending(ctx context.Context) {
	for {
		h.mu.Lock()
		if len(h.pending) == 0 {
			h.mu.Unlock()
			return
		}
		n := min(len(h.pending), h.batchSize)
		batch := make([]*core.LogEntry, n)
		copy(batch, h.pending[:n])
		h.pending = h.pending[n:]
		h.mu.Unlock()

		if err := h.send(ctx, batch); err != nil {
			if selflog.IsEnabled() {
				selflog.Printf("[http] send of %d entries failed: %v", len(batch), err)
			}
			h.mu.Lock()
			h.pending = append(batch, h.pending...)
			if over := len(h.pending) - h.capacity(); over > 0 {
				h.pending = h.pending[:len(h.pending)-over]
				h.dropped += uint64(over)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *HTTP) send(ctx context.Context, batch []*core.LogEntry) error {
	body, contentType, err := h.transform(batch)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	switch h.auth {
	case authBearer:
		req.Header.Set("Authorization", "Bearer "+h.token)
	case authBasic:
		req.SetBasicAuth(h.user, h.pass)
	case authAPIKey:
		req.Header.Set("X-Api-Key", h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, string(respBody))
}
