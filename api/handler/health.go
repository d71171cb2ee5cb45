package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
)

// PagePool reports browser tab usage.
type PagePool interface {
	ActivePages() int
}

// Health returns a handler for GET /api/v1/health.
//
// Status degrades when more than 80% of browser pages are active. pool
// may be nil when no browser is running.
func Health(reg *registry.Registry, pool PagePool, maxPages int, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := "healthy"
		if pool != nil && maxPages > 0 && pool.ActivePages() > int(float64(maxPages)*0.8) {
			status = "degraded"
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Selectors: reg.Len(),
			Browser:   pool != nil,
			Uptime:    int64(time.Since(startTime).Seconds()),
		})
	}
}
