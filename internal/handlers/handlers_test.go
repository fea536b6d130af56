package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lumen-pipeline/internal/apperr"
	"lumen-pipeline/internal/cache"
	"lumen-pipeline/internal/models"
	"lumen-pipeline/internal/pipeline"
	"lumen-pipeline/internal/shape"
	"lumen-pipeline/pkg/logging/logging"
)

type fakeGenerator struct {
	err   error
	texts []string
}

func (f *fakeGenerator) Generate(_ context.Context, text string) (*shape.Result, error) {
	f.texts = append(f.texts, text)
	if f.err != nil {
		return nil, f.err
	}
	pts := []shape.Point{{0, 0, 0}, {1, 1, 1}}
	return &shape.Result{
		Positions:    pts,
		PartIDs:      []uint8{0, 1},
		PartNames:    []string{"head", "body"},
		TemplateType: "quadruped",
		BoundingBox:  shape.Bounds(pts),
		Pipeline:     shape.TierPrimary,
	}, nil
}

type fakeInventory struct {
	names []string
	skip  bool
}

func (f fakeInventory) LoadedNames() []string { return f.names }
func (f fakeInventory) SkipLoading() bool     { return f.skip }

type fakeCache struct {
	connected bool
	cleared   int
}

func (f *fakeCache) Connected(context.Context) bool { return f.connected }
func (f *fakeCache) Stats() cache.Stats             { return cache.Stats{MemoryCacheSize: 3, Misses: 1} }
func (f *fakeCache) ClearMemory() int {
	f.cleared++
	return 3
}

type fakeDevice struct{ allocated uint64 }

func (f fakeDevice) MemoryAllocated(context.Context) (uint64, error) { return f.allocated, nil }
func (f fakeDevice) Reclaim(context.Context) error                   { return nil }

func newRequest(method, target, body string) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	return req.WithContext(logging.WithLogger(req.Context(), zap.NewNop()))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestGenerateAcceptsJSONAndQuery(t *testing.T) {
	gen := &fakeGenerator{}
	h := NewGenerateHandler(gen, 200)

	rr := httptest.NewRecorder()
	h.Generate(rr, newRequest(http.MethodPost, "/generate", `{"text":"  horse "}`))
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "quadruped", body["template_type"])
	assert.Equal(t, "primary", body["pipeline"])
	assert.NotEmpty(t, body["positions"])

	rr = httptest.NewRecorder()
	h.Generate(rr, newRequest(http.MethodPost, "/generate?text=cat", ""))
	require.Equal(t, http.StatusOK, rr.Code)

	assert.Equal(t, []string{"horse", "cat"}, gen.texts)
}

func TestGenerateValidation(t *testing.T) {
	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"empty query", "/generate?text=", ""},
		{"blank body", "/generate", `{"text":"   "}`},
		{"no body", "/generate", ""},
		{"too long", "/generate?text=" + strings.Repeat("a", 201), ""},
		{"malformed json", "/generate", `{"text":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{}
			rr := httptest.NewRecorder()
			NewGenerateHandler(gen, 200).Generate(rr, newRequest(http.MethodPost, tt.target, tt.body))

			assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
			assert.Equal(t, string(apperr.KindInvalidRequest), decodeBody(t, rr)["type"])
			assert.Empty(t, gen.texts)
		})
	}
}

func TestGenerateLengthCountsCharacters(t *testing.T) {
	gen := &fakeGenerator{}
	rr := httptest.NewRecorder()
	body := `{"text":"` + strings.Repeat("é", 200) + `"}`
	NewGenerateHandler(gen, 200).Generate(rr, newRequest(http.MethodPost, "/generate", body))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGenerateMapsErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		kind   string
	}{
		{apperr.RateLimited(30, 2500*time.Millisecond), http.StatusTooManyRequests, "RateLimited"},
		{apperr.GenerationTimeout("horse", 15*time.Second), http.StatusGatewayTimeout, "GenerationTimeout"},
		{apperr.GPUOutOfMemory(models.ErrDeviceOutOfMemory), http.StatusServiceUnavailable, "GPUOutOfMemory"},
		{apperr.ModelNotLoaded("sdxl_turbo", nil), http.StatusServiceUnavailable, "ModelNotLoaded"},
		{apperr.GenerationFailed("horse", errors.New("boom")), http.StatusInternalServerError, "GenerationFailed"},
		{errors.New("plain"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			rr := httptest.NewRecorder()
			NewGenerateHandler(&fakeGenerator{err: tt.err}, 200).Generate(rr, newRequest(http.MethodPost, "/generate?text=horse", ""))

			assert.Equal(t, tt.status, rr.Code)
			body := decodeBody(t, rr)
			assert.Equal(t, tt.kind, body["type"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestGenerateRateLimitedSetsRetryAfter(t *testing.T) {
	rr := httptest.NewRecorder()
	gen := &fakeGenerator{err: apperr.RateLimited(30, 2500*time.Millisecond)}
	NewGenerateHandler(gen, 200).Generate(rr, newRequest(http.MethodPost, "/generate?text=horse", ""))
	assert.Equal(t, "3", rr.Header().Get("Retry-After"))
}

func TestLiveness(t *testing.T) {
	h := NewHealthHandler(fakeInventory{}, &fakeCache{}, nil)
	rr := httptest.NewRecorder()
	h.Live(rr, newRequest(http.MethodGet, "/health", ""))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody(t, rr)["status"])
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name      string
		inv       fakeInventory
		connected bool
		want      int
	}{
		{"models loaded", fakeInventory{names: []string{models.ImageModel}}, true, http.StatusOK},
		{"loading skipped", fakeInventory{skip: true}, true, http.StatusOK},
		{"nothing loaded", fakeInventory{}, true, http.StatusServiceUnavailable},
		{"cache down", fakeInventory{names: []string{models.ImageModel}}, false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.inv, &fakeCache{connected: tt.connected}, nil)
			rr := httptest.NewRecorder()
			h.Ready(rr, newRequest(http.MethodGet, "/health/ready", ""))

			assert.Equal(t, tt.want, rr.Code)
			body := decodeBody(t, rr)
			if tt.want == http.StatusOK {
				assert.Equal(t, "ready", body["status"])
			} else {
				assert.Equal(t, "not_ready", body["status"])
			}
			assert.Equal(t, tt.connected, body["cache_connected"])
			assert.NotNil(t, body["models_loaded"])
		})
	}
}

func TestDebugEndpoints(t *testing.T) {
	c := &fakeCache{connected: true}
	h := NewHealthHandler(fakeInventory{names: []string{"a", "b"}}, c, fakeDevice{allocated: 2_345_000_000})

	rr := httptest.NewRecorder()
	h.Detail(rr, newRequest(http.MethodGet, "/debug/health", ""))
	body := decodeBody(t, rr)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, true, body["gpu_available"])
	assert.InDelta(t, 2.3, body["gpu_memory_used_gb"], 1e-9)
	assert.Contains(t, body, "uptime_seconds")
	assert.Contains(t, body, "cache_stats")

	rr = httptest.NewRecorder()
	h.ListModels(rr, newRequest(http.MethodGet, "/debug/models", ""))
	body = decodeBody(t, rr)
	assert.InDelta(t, 2, body["count"], 0)
	assert.Equal(t, []any{"a", "b"}, body["models"])

	rr = httptest.NewRecorder()
	h.CacheStats(rr, newRequest(http.MethodGet, "/debug/cache/stats", ""))
	assert.InDelta(t, 3, decodeBody(t, rr)["memory_cache_size"], 0)

	rr = httptest.NewRecorder()
	h.ClearCache(rr, newRequest(http.MethodPost, "/debug/cache/clear", ""))
	assert.Equal(t, "cleared", decodeBody(t, rr)["status"])
	assert.Equal(t, 1, c.cleared)
}

type fakeImageModel struct{ prompts []string }

func (f *fakeImageModel) SynthesizeImage(_ context.Context, prompt string) (image.Image, error) {
	f.prompts = append(f.prompts, prompt)
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	return img, nil
}

func TestDebugGenerateImage(t *testing.T) {
	reg := models.NewRegistry(zap.NewNop(), false)
	h := NewImageDebugHandler(reg, pipeline.DefaultCatalogue(), 200)

	rr := httptest.NewRecorder()
	h.GenerateImage(rr, newRequest(http.MethodPost, "/debug/generate-image", `{"text":"horse"}`))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "ModelNotLoaded", decodeBody(t, rr)["type"])

	model := &fakeImageModel{}
	reg.Register(models.ImageModel, model)

	rr = httptest.NewRecorder()
	h.GenerateImage(rr, newRequest(http.MethodPost, "/debug/generate-image", `{"text":"horse"}`))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))

	img, err := png.Decode(rr.Body)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	require.Len(t, model.prompts, 1)
	assert.Contains(t, model.prompts[0], "3D render of a horse")
	assert.Contains(t, model.prompts[0], "four legs visible")
}
