package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pinpoint/evolution"
	"github.com/use-agent/pinpoint/models"
)

// Evolve returns a handler for POST /api/v1/selectors/:id/evolve.
//
// With an empty body the manager evaluates the selector from its ledger
// history. A body carrying recommendations applies exactly those.
// ?dry_run=true reports without changing the registry.
func Evolve(mgr *evolution.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		dryRun, _ := strconv.ParseBool(c.DefaultQuery("dry_run", "false"))

		var req models.RecommendationRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err.Error())
			return
		}

		if len(req.Recommendations) == 0 {
			resp, err := mgr.Evolve(c.Request.Context(), id, dryRun)
			if err != nil {
				respondError(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
			return
		}

		resp := models.EvolveResponse{SelectorID: id, Recommendations: req.Recommendations}
		if dryRun {
			def, err := mgr.Preview(id, req.Recommendations)
			if err != nil {
				respondError(c, err)
				return
			}
			resp.Definition = &def
			c.JSON(http.StatusOK, resp)
			return
		}
		def, err := mgr.Apply(c.Request.Context(), id, req.Recommendations)
		if err != nil {
			respondError(c, err)
			return
		}
		resp.Applied = true
		resp.Definition = &def
		c.JSON(http.StatusOK, resp)
	}
}

// Reinstate returns a handler for
// POST /api/v1/selectors/:id/strategies/:strategy/reinstate.
func Reinstate(mgr *evolution.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		def, err := mgr.Reinstate(c.Request.Context(), c.Param("id"), c.Param("strategy"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	}
}
