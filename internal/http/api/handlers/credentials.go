package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/modelgate/modelgate/internal/credential"
	"github.com/modelgate/modelgate/internal/identity"
	"github.com/modelgate/modelgate/internal/models"
)

// CredentialHandler serves credential issuance and lifecycle endpoints.
type CredentialHandler struct {
	store *credential.Store
}

// NewCredentialHandler constructs a CredentialHandler.
func NewCredentialHandler(store *credential.Store) *CredentialHandler {
	return &CredentialHandler{store: store}
}

// Token expiration bounds.
const (
	defaultTokenExpiration = 4 * time.Hour
	minTokenExpiration     = 10 * time.Minute
)

// IssueToken issues a short-lived token for the calling identity. The
// plaintext secret appears in this response and nowhere else. An empty body
// means the default expiration.
func (h *CredentialHandler) IssueToken(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var body struct {
		Name       string   `json:"name"`
		Expiration Duration `json:"expiration"`
	}
	if c.Request.ContentLength > 0 {
		if errBindJSON := c.ShouldBindJSON(&body); errBindJSON != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expiration duration"})
			return
		}
	}

	ttl := defaultTokenExpiration
	if body.Expiration.Duration != 0 {
		ttl = body.Expiration.Duration
	}
	if ttl < minTokenExpiration {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expiration must be at least " + minTokenExpiration.String()})
		return
	}

	params := credential.IssueParams{
		Username: id.Username,
		Groups:   id.Groups,
		Tier:     id.Tier,
		Kind:     models.CredentialKindToken,
		Name:     strings.TrimSpace(body.Name),
		TTL:      &ttl,
	}

	issued, errIssue := h.store.Issue(c.Request.Context(), params)
	if errIssue != nil {
		if errors.Is(errIssue, credential.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "key collision, retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue token failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         issued.Credential.ID,
		"name":       issued.Credential.Name,
		"token":      issued.Plaintext,
		"key_prefix": issued.Credential.KeyPrefix,
		"expires_at": issued.Credential.ExpiresAt,
		"created_at": issued.Credential.CreatedAt,
	})
}

// RevokeTokens revokes every active token of the calling identity.
func (h *CredentialHandler) RevokeTokens(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	revoked, errRevoke := h.store.RevokeAll(c.Request.Context(), id.Username, models.CredentialKindToken)
	if errRevoke != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke tokens failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// CreateAPIKey issues a named long-lived API key for the calling identity.
func (h *CredentialHandler) CreateAPIKey(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	var body struct {
		Name        string   `json:"name"`
		Description string   `json:"description"`
		ExpiresIn   Duration `json:"expiresIn"`
		// Snake-case alias kept for earlier clients.
		ExpiresInAlias Duration `json:"expires_in"`
	}
	if errBindJSON := c.ShouldBindJSON(&body); errBindJSON != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	params := credential.IssueParams{
		Username:    id.Username,
		Groups:      id.Groups,
		Tier:        id.Tier,
		Kind:        models.CredentialKindAPIKey,
		Name:        name,
		Description: strings.TrimSpace(body.Description),
	}
	// An absent expiresIn means a permanent key.
	ttl := body.ExpiresIn.Duration
	if ttl == 0 {
		ttl = body.ExpiresInAlias.Duration
	}
	if ttl < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid expiresIn duration"})
		return
	}
	if ttl > 0 {
		params.TTL = &ttl
	}

	issued, errIssue := h.store.Issue(c.Request.Context(), params)
	if errIssue != nil {
		if errors.Is(errIssue, credential.ErrConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": "key collision, retry"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":          issued.Credential.ID,
		"name":        issued.Credential.Name,
		"description": issued.Credential.Description,
		"key":         issued.Plaintext,
		"key_prefix":  issued.Credential.KeyPrefix,
		"expires_at":  issued.Credential.ExpiresAt,
		"created_at":  issued.Credential.CreatedAt,
	})
}

// ListAPIKeys returns the calling identity's API keys. Only the display
// prefix of each key is exposed; the secret is not recoverable.
func (h *CredentialHandler) ListAPIKeys(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	rows, errList := h.store.List(c.Request.Context(), id.Username, models.CredentialKindAPIKey)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":           row.ID,
			"name":         row.Name,
			"description":  row.Description,
			"key_prefix":   row.KeyPrefix,
			"status":       row.Status,
			"expires_at":   row.ExpiresAt,
			"revoked_at":   row.RevokedAt,
			"last_used_at": row.LastUsedAt,
			"created_at":   row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out})
}

// GetAPIKey returns one API key owned by the calling identity.
func (h *CredentialHandler) GetAPIKey(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	row, errGet := h.store.Get(c.Request.Context(), id.Username, strings.TrimSpace(c.Param("id")))
	if errGet != nil {
		if errors.Is(errGet, credential.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get api key failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           row.ID,
		"name":         row.Name,
		"description":  row.Description,
		"key_prefix":   row.KeyPrefix,
		"status":       row.Status,
		"expires_at":   row.ExpiresAt,
		"revoked_at":   row.RevokedAt,
		"last_used_at": row.LastUsedAt,
		"created_at":   row.CreatedAt,
	})
}

// RevokeAPIKey revokes one API key owned by the calling identity. Revoking
// an already revoked key is a no-op.
func (h *CredentialHandler) RevokeAPIKey(c *gin.Context) {
	id, ok := identity.FromGinContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}
	errRevoke := h.store.Revoke(c.Request.Context(), id.Username, strings.TrimSpace(c.Param("id")))
	if errRevoke != nil {
		if errors.Is(errRevoke, credential.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke api key failed"})
		return
	}
	c.Status(http.StatusNoContent)
}
