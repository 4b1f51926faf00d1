// Package operation provides HTTP handlers for manual service operations
// (registry reload).
package operation

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Manager defines the interface for manual operations
type Manager interface {
	Reload(ctx context.Context) error
	UpdateActivity()
}

// GinHandler handles manual operation requests using Gin
type GinHandler struct {
	manager Manager
}

// NewGinHandler creates a new Gin operation handler
func NewGinHandler(manager Manager) *GinHandler {
	return &GinHandler{
		manager: manager,
	}
}

// ReloadHandler handles manual registry reload requests
func (h *GinHandler) ReloadHandler(c *gin.Context) {
	ctx := c.Request.Context()
	log.Printf("Registry reload requested")

	// Update activity so the reload itself counts as traffic
	h.manager.UpdateActivity()

	if err := h.manager.Reload(ctx); err != nil {
		log.Printf("Failed to reload registry: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": gin.H{
				"message": err.Error(),
				"type":    "reload_failed",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "registry reloaded successfully",
	})
}
