package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/textpulse/internal/api/middleware"
	"github.com/kiranshivaraju/textpulse/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Cache ---

type mockCache struct {
	cache.Cache
	counter int64
	err     error
}

func (m *mockCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.counter++
	return m.counter, nil
}

type rejectCounter struct {
	mu      sync.Mutex
	classes []string
}

func (r *rejectCounter) RateLimited(class string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, class)
}

type httpObserver struct {
	method string
	code   int
	calls  int
}

func (o *httpObserver) HTTPRequest(method string, code int, _ time.Duration) {
	o.method, o.code = method, code
	o.calls++
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func withClient(req *http.Request, id string) *http.Request {
	return req.WithContext(mw.SetClientID(req.Context(), id))
}

// ========================================
// Client Identity Tests
// ========================================

func TestClientIdentity_UsesRemoteHost(t *testing.T) {
	var got string
	handler := mw.ClientIdentity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = mw.GetClientID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.1.2.3:54321"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", got)
}

func TestClientIdentity_RemoteAddrWithoutPort(t *testing.T) {
	var got string
	handler := mw.ClientIdentity(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, _ = mw.GetClientID(r)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "10.1.2.3"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "10.1.2.3", got)
}

func TestGetClientID_Missing(t *testing.T) {
	_, ok := mw.GetClientID(httptest.NewRequest("GET", "/test", nil))
	assert.False(t, ok)
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := &mockCache{counter: 0}
	rl := mw.NewRateLimit(mc, mw.ClassAnalysis, 60)

	handler := rl.Limit(okHandler())

	req := withClient(httptest.NewRequest("POST", "/test", nil), "10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := &mockCache{counter: 60} // next IncrWithExpiry will return 61
	rejects := &rejectCounter{}
	rl := mw.NewRateLimit(mc, mw.ClassStatus, 60).WithObserver(rejects)

	handler := rl.Limit(okHandler())

	req := withClient(httptest.NewRequest("GET", "/test", nil), "10.0.0.1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
	assert.Equal(t, []string{mw.ClassStatus}, rejects.classes)
}

func TestRateLimit_NoClient_PassThrough(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{}, mw.ClassAnalysis, 60)

	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_CounterError_FailsOpen(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{err: errors.New("redis down")}, mw.ClassAnalysis, 1)

	req := withClient(httptest.NewRequest("POST", "/test", nil), "10.0.0.1")
	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_DefaultLimit(t *testing.T) {
	rl := mw.NewRateLimit(&mockCache{}, mw.ClassAnalysis, 0)

	req := withClient(httptest.NewRequest("POST", "/test", nil), "10.0.0.1")
	w := httptest.NewRecorder()
	rl.Limit(okHandler()).ServeHTTP(w, req)

	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimit_ClassesAndClientsCountSeparately(t *testing.T) {
	mc := cache.NewMemoryCache()
	submit := mw.NewRateLimit(mc, mw.ClassAnalysis, 2).Limit(okHandler())
	status := mw.NewRateLimit(mc, mw.ClassStatus, 2).Limit(okHandler())

	do := func(h http.Handler, client string) int {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, withClient(httptest.NewRequest("GET", "/test", nil), client))
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do(submit, "a"))
	assert.Equal(t, http.StatusOK, do(submit, "a"))
	assert.Equal(t, http.StatusTooManyRequests, do(submit, "a"))

	assert.Equal(t, http.StatusOK, do(status, "a"), "status class has its own budget")
	assert.Equal(t, http.StatusOK, do(submit, "b"), "each client has its own budget")
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := chimw.RequestID(mw.Logger(okHandler()))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInstrument_ReportsStatus(t *testing.T) {
	obs := &httpObserver{}
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	w := httptest.NewRecorder()
	mw.Instrument(obs)(notFound).ServeHTTP(w, httptest.NewRequest("DELETE", "/x", nil))

	assert.Equal(t, 1, obs.calls)
	assert.Equal(t, "DELETE", obs.method)
	assert.Equal(t, http.StatusNotFound, obs.code)
}
