package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pinpoint/drift"
	"github.com/use-agent/pinpoint/ledger"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
	"github.com/use-agent/pinpoint/telemetry"
)

// parseWindow reads the optional ?window= duration. Zero means default.
func parseWindow(c *gin.Context) (time.Duration, error) {
	raw := c.Query("window")
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid window %q: want a positive duration such as 24h", raw)
	}
	return d, nil
}

// Drift returns a handler for GET /api/v1/selectors/:id/drift.
// ?strategy= narrows the report to one strategy.
func Drift(reg *registry.Registry, det *drift.Detector) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := reg.Get(id); err != nil {
			respondError(c, err)
			return
		}
		window, err := parseWindow(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}

		var report models.DriftReport
		if strategyID := c.Query("strategy"); strategyID != "" {
			report, err = det.AnalyzeStrategy(c.Request.Context(), id, strategyID, window)
		} else {
			report, err = det.Analyze(c.Request.Context(), id, window)
		}
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// Telemetry returns a handler for GET /api/v1/selectors/:id/telemetry.
// Stability scores use budget as the latency budget.
func Telemetry(reg *registry.Registry, l ledger.Ledger, defaultWindow, budget time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := reg.Get(id); err != nil {
			respondError(c, err)
			return
		}
		window, err := parseWindow(c)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		if window == 0 {
			window = defaultWindow
		}

		to := time.Now()
		recs, err := l.Query(c.Request.Context(), id, to.Add(-window), to)
		if err != nil {
			respondError(c, err)
			return
		}
		stats := telemetry.BySelector(recs, budget)
		if stats == nil {
			stats = []models.StrategyStats{}
		}
		c.JSON(http.StatusOK, models.TelemetryResponse{
			SelectorID: id,
			Window:     window.String(),
			Strategies: stats,
		})
	}
}
