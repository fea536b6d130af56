package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lumen-pipeline/internal/cache"
	"lumen-pipeline/internal/handlers"
	"lumen-pipeline/internal/metrics"
	"lumen-pipeline/internal/models"
	"lumen-pipeline/internal/pipeline"
)

func newTestRouter(t *testing.T, opts Options) (http.Handler, *cache.ShapeCache) {
	t.Helper()
	metrics.Register()

	reg := models.NewRegistry(zap.NewNop(), true)
	shapes := cache.NewShapeCache(nil, cache.Options{MemoryCapacity: 8})
	orch := pipeline.New(pipeline.Config{MaxPoints: 64, Timeout: 5 * time.Second}, pipeline.Deps{
		Registry: reg,
		Cache:    shapes,
	})

	return NewRouter(zap.NewNop(), opts, Handlers{
		Generate: handlers.NewGenerateHandler(orch, 200),
		Health:   handlers.NewHealthHandler(reg, shapes, nil),
		Image:    handlers.NewImageDebugHandler(reg, orch.Catalogue(), 200),
	}), shapes
}

func serve(h http.Handler, method, target, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouterGenerateEndToEnd(t *testing.T) {
	h, shapes := newTestRouter(t, Options{RequestTimeout: 10 * time.Second})

	rr := serve(h, http.MethodPost, "/generate?text=horse", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "mock", body["pipeline"])
	assert.Equal(t, "quadruped", body["template_type"])
	assert.Equal(t, false, body["cached"])

	rr = serve(h, http.MethodPost, "/generate?text=Horse", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, true, body["cached"])
	assert.Equal(t, int64(1), shapes.Stats().MemoryHits)
}

func TestRouterProbesAndMetrics(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health", "").Code)
	// model loading is skipped and the memory-only cache is always connected
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/ready", "").Code)

	rr := serve(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "gateway_latency_seconds")
}

func TestRouterDebugToggle(t *testing.T) {
	off, _ := newTestRouter(t, Options{})
	assert.Equal(t, http.StatusNotFound, serve(off, http.MethodGet, "/debug/models", "").Code)

	on, _ := newTestRouter(t, Options{Debug: true})
	rr := serve(on, http.MethodGet, "/debug/models", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, http.StatusOK, serve(on, http.MethodPost, "/debug/cache/clear", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(on, http.MethodPost, "/debug/generate-image?text=horse", "").Code)
}

func TestRouterAPIKey(t *testing.T) {
	h, _ := newTestRouter(t, Options{APIKey: "k", Debug: true})

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/generate?text=horse", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/generate?text=horse", "k").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/debug/models", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health/ready", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/", "").Code)
}

func TestRouterHTTPRateLimit(t *testing.T) {
	h, _ := newTestRouter(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/generate?text=horse", "").Code)
	rr := serve(h, http.MethodPost, "/generate?text=horse", "")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))

	// probes are outside the limiter
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/health", "").Code)
}

func TestRouterBodyLimit(t *testing.T) {
	h, _ := newTestRouter(t, Options{MaxBodyBytes: 16})

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"text":"`+strings.Repeat("a", 64)+`"}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req.WithContext(context.Background()))
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}
