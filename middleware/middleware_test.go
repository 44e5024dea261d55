package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserve/pulselog"
	"github.com/fieldserve/pulselog/configuration"
	"github.com/fieldserve/pulselog/core"
	"github.com/fieldserve/pulselog/sinks"
	"github.com/fieldserve/pulselog/trace"
)

func testConfig() *configuration.Config {
	return &configuration.Config{
		ServiceName: "test-svc",
		Environment: "test",
		Level:       core.TraceLevel,
		LevelRates: map[core.Level]float64{
			core.TraceLevel: 1.0,
			core.DebugLevel: 1.0,
			core.InfoLevel:  1.0,
			core.WarnLevel:  1.0,
			core.ErrorLevel: 1.0,
			core.FatalLevel: 1.0,
		},
		BurstAllowance: 5,
		RateLimit:      1e9,
		BufferSize:     100,
		FlushInterval:  time.Hour,
		MaxRetryQueue:  10,
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
	}
}

type stack struct {
	mem     *sinks.Memory
	log     *pulselog.Logger
	wrapped http.Handler
}

func newTestStack(t *testing.T, opts Options, handler http.Handler) *stack {
	t.Helper()
	mem := sinks.NewMemory()
	log := pulselog.New(pulselog.WithConfig(testConfig()), pulselog.WithTransports(mem))
	t.Cleanup(func() { log.Shutdown(context.Background()) })

	opts.Logger = log
	return &stack{mem: mem, log: log, wrapped: Middleware(opts)(handler)}
}

func (s *stack) entries() []*core.LogEntry {
	s.log.Flush(context.Background())
	return s.mem.Entries()
}

func TestRequestIsLogged(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("done"))
	})
	s := newTestStack(t, Options{}, handler)

	req := httptest.NewRequest(http.MethodPost, "/visits", nil)
	req.RemoteAddr = "203.0.113.9:4711"
	rec := httptest.NewRecorder()
	s.wrapped.ServeHTTP(rec, req)

	// The correlation ID is echoed back to the caller.
	assert.NotEmpty(t, rec.Header().Get(trace.HeaderCorrelationID))

	got := s.entries()
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, core.InfoLevel, e.Level)
	assert.Equal(t, "POST /visits", e.Message)
	assert.NotEmpty(t, e.CorrelationID)
	require.NotNil(t, e.Context)
	assert.Equal(t, "http", e.Context.Component)
	assert.Equal(t, "POST", e.Context.HTTPMethod)
	assert.Equal(t, http.StatusCreated, e.Context.HTTPStatus)
	assert.Equal(t, "203.0.113.9", e.Context.ClientIP)
	assert.Equal(t, 4, e.Context.Data["responseBytes"])
	assert.Greater(t, e.Context.DurationMs, 0.0)
}

func TestInboundCorrelationIsReused(t *testing.T) {
	var seen string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = trace.CorrelationID(r.Context())
	})
	s := newTestStack(t, Options{}, handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(trace.HeaderCorrelationID, "inbound-42")
	rec := httptest.NewRecorder()
	s.wrapped.ServeHTTP(rec, req)

	assert.Equal(t, "inbound-42", seen)
	assert.Equal(t, "inbound-42", rec.Header().Get(trace.HeaderCorrelationID))

	got := s.entries()
	require.Len(t, got, 1)
	assert.Equal(t, "inbound-42", got[0].CorrelationID)
}

func TestStatusMapsToLevel(t *testing.T) {
	cases := []struct {
		status int
		want   core.Level
	}{
		{200, core.InfoLevel},
		{404, core.WarnLevel},
		{503, core.ErrorLevel},
	}
	for _, tc := range cases {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		})
		s := newTestStack(t, Options{}, handler)

		s.wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

		got := s.entries()
		require.Len(t, got, 1, "status %d", tc.status)
		assert.Equal(t, tc.want, got[0].Level, "status %d", tc.status)
	}
}

func TestSkipPaths(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	s := newTestStack(t, Options{SkipPaths: []string{"/healthz"}}, handler)

	s.wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Empty(t, s.entries())
}

func TestPanicIsLoggedAndAnswered(t *testing.T) {
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})
	s := newTestStack(t, Options{}, handler)

	rec := httptest.NewRecorder()
	s.wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	got := s.entries()
	require.Len(t, got, 1)
	e := got[0]
	assert.Equal(t, core.ErrorLevel, e.Level)
	assert.Equal(t, "request panicked", e.Message)
	require.NotNil(t, e.Error)
	assert.Contains(t, e.Error.Message, "kaboom")
}

func TestCustomPanicHandler(t *testing.T) {
	handler := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	})
	s := newTestStack(t, Options{
		PanicHandler: func(w http.ResponseWriter, _ *http.Request, _ any) {
			w.WriteHeader(http.StatusServiceUnavailable)
		},
	}, handler)

	rec := httptest.NewRecorder()
	s.wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestForwardedForWins(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	s := newTestStack(t, Options{}, handler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:999"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	s.wrapped.ServeHTTP(httptest.NewRecorder(), req)

	got := s.entries()
	require.Len(t, got, 1)
	assert.Equal(t, "198.51.100.7", got[0].Context.ClientIP)
}

func TestMiddlewareRequiresLogger(t *testing.T) {
	assert.Panics(t, func() { Middleware(Options{}) })
}
