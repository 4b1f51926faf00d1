package registry

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler handles HTTP requests for the tool registry
type Handler struct {
	registry *Registry
}

// NewHandler creates a new registry handler
func NewHandler(registry *Registry) *Handler {
	return &Handler{
		registry: registry,
	}
}

// ListHandler returns all registered tool profiles
func (h *Handler) ListHandler(c *gin.Context) {
	tools := h.registry.Tools()

	c.JSON(http.StatusOK, gin.H{
		"tools": tools,
		"count": len(tools),
	})
}

// DetailHandler returns a single tool profile by name
func (h *Handler) DetailHandler(c *gin.Context) {
	name := c.Param("name")

	tool, ok := h.registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("Tool '%s' not found", name),
		})
		return
	}

	c.JSON(http.StatusOK, tool)
}
