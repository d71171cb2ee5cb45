package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/pinpoint/models"
	"github.com/use-agent/pinpoint/registry"
)

// ListSelectors returns a handler for GET /api/v1/selectors.
func ListSelectors(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"selectors": reg.List()})
	}
}

// GetSelector returns a handler for GET /api/v1/selectors/:id.
func GetSelector(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		def, err := reg.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, def)
	}
}

// RegisterSelector returns a handler for POST /api/v1/selectors.
// Registering an existing id is a conflict.
func RegisterSelector(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var def models.SelectorDefinition
		if err := c.ShouldBindJSON(&def); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := reg.Register(def); err != nil {
			respondError(c, err)
			return
		}
		stored, err := reg.Get(def.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, stored)
	}
}

// ReplaceSelector returns a handler for PUT /api/v1/selectors/:id.
// Evolved priorities and disabled strategies survive the replacement.
func ReplaceSelector(reg *registry.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var def models.SelectorDefinition
		if err := c.ShouldBindJSON(&def); err != nil {
			badRequest(c, err.Error())
			return
		}
		id := c.Param("id")
		if def.ID == "" {
			def.ID = id
		}
		if def.ID != id {
			badRequest(c, "selector id in body does not match path")
			return
		}
		stored, err := reg.Replace(def)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, stored)
	}
}
