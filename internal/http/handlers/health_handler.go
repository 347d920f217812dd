package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-jobtrack-backend/internal/cache"
)

// HealthResponse reports liveness and cache state. The service stays healthy
// while the cache is down; reads fall back to the stores.
type HealthResponse struct {
	Status string       `json:"status" example:"ok"`
	Cache  *CacheHealth `json:"cache,omitempty"`
}

// CacheHealth is the cache section of HealthResponse.
type CacheHealth struct {
	Ready    bool                 `json:"ready"`
	Mode     string               `json:"mode" example:"cache"`
	Breakers []cache.BreakerStats `json:"breakers"`
}

// Health godoc
// @ID       health
// @Summary  Liveness and cache readiness
// @Tags     Health
// @Produce  json
// @Success  200 {object} handlers.HealthResponse
// @Router   /health [get]
func (h *Handlers) Health(c *gin.Context) {
	resp := HealthResponse{Status: "ok"}
	if h.probe != nil {
		ch := &CacheHealth{Ready: h.probe.Ready(), Mode: "cache", Breakers: h.probe.Breakers()}
		if !ch.Ready {
			ch.Mode = "fallback"
		}
		for _, b := range ch.Breakers {
			if b.IsOpen {
				ch.Mode = "fallback"
			}
		}
		if ch.Breakers == nil {
			ch.Breakers = []cache.BreakerStats{}
		}
		resp.Cache = ch
	}
	ok(c, http.StatusOK, resp)
}
