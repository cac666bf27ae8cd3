package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/services/audit"
	"github.com/ternarybob/beacon/internal/services/breaker"
	"github.com/ternarybob/beacon/internal/services/pool"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// HealthHandler reports service readiness and dependency status.
type HealthHandler struct {
	logger   arbor.ILogger
	db       *sqlite.DB
	cache    *sqlite.CacheStorage
	browsers *pool.BrowserPool
	breakers *breaker.Registry
	version  string
	started  time.Time
}

// NewHealthHandler creates the health check handler.
func NewHealthHandler(
	logger arbor.ILogger,
	db *sqlite.DB,
	cache *sqlite.CacheStorage,
	browsers *pool.BrowserPool,
	breakers *breaker.Registry,
	version string,
) *HealthHandler {
	return &HealthHandler{
		logger:   logger,
		db:       db,
		cache:    cache,
		browsers: browsers,
		breakers: breakers,
		version:  version,
		started:  time.Now(),
	}
}

// HealthHandler serves GET /v1/health. Returns 503 when a required dependency
// is unavailable, "degraded" when an external API circuit is open.
func (h *HealthHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	checks := make(map[string]string)
	healthy := true

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := h.db.Ping(ctx); err != nil {
		checks["database"] = err.Error()
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := audit.CheckLighthouse(); err != nil {
		checks["lighthouse"] = err.Error()
		healthy = false
	} else {
		checks["lighthouse"] = "ok"
	}

	if _, err := pool.FindChrome(); err != nil {
		checks["chrome"] = err.Error()
		healthy = false
	} else {
		checks["chrome"] = "ok"
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if h.breakers.AnyOpen() {
		status = "degraded"
	}

	WriteJSON(w, statusCode, map[string]interface{}{
		"status":           status,
		"version":          h.version,
		"uptime_seconds":   int(time.Since(h.started).Seconds()),
		"checks":           checks,
		"circuit_breakers": h.breakers.AllStats(),
		"browser_pool":     h.browsers.Stats(),
		"database":         h.cache.Health(),
	})
}
