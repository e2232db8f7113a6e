package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/credential"
)

// ValidateHandler serves the hot-path validation callback the enforcement
// layer calls per request to resolve a presented credential.
type ValidateHandler struct {
	store *credential.Store
}

// NewValidateHandler constructs a ValidateHandler.
func NewValidateHandler(store *credential.Store) *ValidateHandler {
	return &ValidateHandler{store: store}
}

// Validate resolves a presented secret to its owning identity. Any failed
// validation answers 200 with valid=false and no further detail, so the
// enforcement layer can map it straight to a denial without leaking why.
func (h *ValidateHandler) Validate(c *gin.Context) {
	var body struct {
		Key string `json:"key" binding:"required"`
	}
	if errBindJSON := c.ShouldBindJSON(&body); errBindJSON != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	resolved, errValidate := h.store.Validate(c.Request.Context(), body.Key)
	if errValidate != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":    true,
		"username": resolved.Username,
		"groups":   resolved.Groups,
		"tier":     resolved.Tier,
	})
}
