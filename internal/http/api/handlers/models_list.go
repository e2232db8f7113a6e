package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/discovery"
	"github.com/modelgate/modelgate/internal/identity"
	"github.com/modelgate/modelgate/internal/models"
)

// ModelsHandler serves model discovery.
type ModelsHandler struct {
	svc *discovery.Service
}

// NewModelsHandler constructs a ModelsHandler.
func NewModelsHandler(svc *discovery.Service) *ModelsHandler {
	return &ModelsHandler{svc: svc}
}

// List returns the models the caller can use right now, in the listing
// shape OpenAI-compatible clients expect.
func (h *ModelsHandler) List(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	entries, errList := h.svc.ListAccessible(c.Request.Context(), id.Groups, c.GetHeader("Authorization"))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	out := make([]gin.H, 0, len(entries))
	for _, entry := range entries {
		out = append(out, gin.H{
			"id":       entry.Name,
			"object":   "model",
			"owned_by": "modelgate",
			"url":      entry.Endpoint,
			"ready":    entry.Phase == models.PhaseReady,
			"kind":     entry.Kind,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"object": "list",
		"data":   out,
	})
}
