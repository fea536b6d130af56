package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"lumen-pipeline/internal/cache"
	"lumen-pipeline/internal/models"
	"lumen-pipeline/pkg/logging/logging"
)

// ModelInventory reports which collaborator models are resident.
type ModelInventory interface {
	LoadedNames() []string
	SkipLoading() bool
}

// CacheStatus is the part of the shape cache the probes look at.
type CacheStatus interface {
	Connected(ctx context.Context) bool
	Stats() cache.Stats
	ClearMemory() int
}

// HealthHandler serves the liveness, readiness and diagnostic endpoints.
type HealthHandler struct {
	Models  ModelInventory
	Cache   CacheStatus
	Device  models.DeviceMonitor // optional
	Started time.Time
}

func NewHealthHandler(inv ModelInventory, c CacheStatus, device models.DeviceMonitor) *HealthHandler {
	return &HealthHandler{Models: inv, Cache: c, Device: device, Started: time.Now()}
}

// Root identifies the service.
func (h *HealthHandler) Root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "lumen-pipeline", "status": "ok"})
}

// Live always answers 200 while the process can serve HTTP.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readiness struct {
	Status         string   `json:"status"`
	ModelsLoaded   []string `json:"models_loaded"`
	CacheConnected bool     `json:"cache_connected"`
}

// Ready answers 200 once at least one model is resident (or loading is
// skipped) and the cache is reachable, 503 otherwise.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	loaded := loadedNames(h.Models)
	connected := h.Cache.Connected(r.Context())
	ready := (len(loaded) > 0 || h.Models.SkipLoading()) && connected

	body := readiness{Status: "ready", ModelsLoaded: loaded, CacheConnected: connected}
	status := http.StatusOK
	if !ready {
		body.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

type deviceInfo struct {
	Available      bool    `json:"gpu_available"`
	MemoryUsedGB   float64 `json:"gpu_memory_used_gb"`
	AllocatedBytes uint64  `json:"gpu_memory_allocated_bytes"`
}

type healthDetail struct {
	Status         string      `json:"status"`
	ModelsLoaded   []string    `json:"models_loaded"`
	CacheConnected bool        `json:"cache_connected"`
	CacheStats     cache.Stats `json:"cache_stats"`
	UptimeSeconds  int64       `json:"uptime_seconds"`
	deviceInfo
}

// Detail is the human-facing diagnostics view mounted at /debug/health.
func (h *HealthHandler) Detail(w http.ResponseWriter, r *http.Request) {
	body := healthDetail{
		Status:         "healthy",
		ModelsLoaded:   loadedNames(h.Models),
		CacheConnected: h.Cache.Connected(r.Context()),
		CacheStats:     h.Cache.Stats(),
		UptimeSeconds:  int64(time.Since(h.Started).Seconds()),
	}
	if h.Device != nil {
		allocated, err := h.Device.MemoryAllocated(r.Context())
		if err != nil {
			logging.L(r.Context()).Warn("device_memory_unavailable", zap.Error(err))
		} else {
			body.deviceInfo = deviceInfo{
				Available:      true,
				AllocatedBytes: allocated,
				MemoryUsedGB:   float64(allocated/1e8) / 10,
			}
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// ListModels lists the resident models.
func (h *HealthHandler) ListModels(w http.ResponseWriter, _ *http.Request) {
	names := loadedNames(h.Models)
	writeJSON(w, http.StatusOK, map[string]any{"models": names, "count": len(names)})
}

func (h *HealthHandler) CacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Cache.Stats())
}

// ClearCache empties the in-memory tier. The durable tier is untouched.
func (h *HealthHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	n := h.Cache.ClearMemory()
	logging.L(r.Context()).Info("memory_cache_cleared", zap.Int("entries", n))
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared", "entries": n})
}

func loadedNames(inv ModelInventory) []string {
	if names := inv.LoadedNames(); names != nil {
		return names
	}
	return []string{}
}
