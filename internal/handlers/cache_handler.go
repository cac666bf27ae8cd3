package handlers

import (
	"fmt"
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/beacon/internal/storage/sqlite"
)

// CacheHandler exposes cache inspection and maintenance endpoints.
type CacheHandler struct {
	logger arbor.ILogger
	cache  *sqlite.CacheStorage
}

// NewCacheHandler creates the cache API handler.
func NewCacheHandler(logger arbor.ILogger, cache *sqlite.CacheStorage) *CacheHandler {
	return &CacheHandler{
		logger: logger,
		cache:  cache,
	}
}

// StatsHandler returns entry counts and hit metrics. GET /v1/cache/stats
func (h *CacheHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	WriteJSON(w, http.StatusOK, h.cache.Stats())
}

// CleanupHandler removes expired entries. POST /v1/cache/cleanup
func (h *CacheHandler) CleanupHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	removed := h.cache.CleanupExpired()
	h.logger.Info().Int("removed", removed).Msg("Cache cleanup requested via API")
	WriteSuccess(w, fmt.Sprintf("Removed %d expired entries", removed))
}

// ClearHandler drops the entire cache database. DELETE /v1/cache
func (h *CacheHandler) ClearHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodDelete) {
		return
	}

	h.cache.Clear()
	h.logger.Info().Msg("Cache cleared via API")
	WriteSuccess(w, "Cache cleared")
}
