package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelgate/modelgate/internal/db"
	"github.com/modelgate/modelgate/internal/models"
)

// DeclarationHandler manages the admin declaration endpoints. Every write
// notifies the reconciliation engine so generated rules converge without a
// full resync.
type DeclarationHandler struct {
	db     *gorm.DB
	notify func()
}

// NewDeclarationHandler constructs a DeclarationHandler. notify may be nil.
func NewDeclarationHandler(db *gorm.DB, notify func()) *DeclarationHandler {
	return &DeclarationHandler{db: db, notify: notify}
}

func (h *DeclarationHandler) changed() {
	if h.notify != nil {
		h.notify()
	}
}

// CreateModel declares a model.
func (h *DeclarationHandler) CreateModel(c *gin.Context) {
	var body struct {
		Name         string `json:"name"`
		RefKind      string `json:"ref_kind"`
		RefName      string `json:"ref_name"`
		RefNamespace string `json:"ref_namespace"`
		Endpoint     string `json:"endpoint"`
	}
	if errBindJSON := c.ShouldBindJSON(&body); errBindJSON != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	refKind := strings.TrimSpace(body.RefKind)
	if name == "" || refKind == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name or ref_kind"})
		return
	}
	if refKind != models.RefKindLLMBackend && refKind != models.RefKindExternalModel {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown ref_kind"})
		return
	}
	row := models.Model{
		Name:         name,
		RefKind:      refKind,
		RefName:      strings.TrimSpace(body.RefName),
		RefNamespace: strings.TrimSpace(body.RefNamespace),
		Endpoint:     strings.TrimSpace(body.Endpoint),
		Phase:        models.PhasePending,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "model already declared"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create model failed"})
		return
	}
	h.changed()
	c.JSON(http.StatusCreated, gin.H{"id": row.ID, "name": row.Name, "phase": row.Phase})
}

// ListModels returns all declared models with their resolved state.
func (h *DeclarationHandler) ListModels(c *gin.Context) {
	var rows []models.Model
	if errFind := h.db.WithContext(c.Request.Context()).Order("name ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list models failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":       row.ID,
			"name":     row.Name,
			"ref_kind": row.RefKind,
			"ref_name": row.RefName,
			"endpoint": row.Endpoint,
			"phase":    row.Phase,
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": out})
}

// DeleteModel removes a model declaration. Derived rules disappear on the
// next reconciliation pass.
func (h *DeclarationHandler) DeleteModel(c *gin.Context) {
	h.deleteByName(c, &models.Model{}, "model")
}

// CreateAccessPolicy declares an access policy.
func (h *DeclarationHandler) CreateAccessPolicy(c *gin.Context) {
	var body struct {
		Name          string   `json:"name"`
		ModelRefs     []string `json:"model_refs"`
		AllowedGroups []string `json:"allowed_groups"`
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
	row := models.AccessPolicy{
		Name:          name,
		ModelRefs:     models.StringList(body.ModelRefs).Clean(),
		AllowedGroups: models.StringList(body.AllowedGroups).Clean(),
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "access policy already declared"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create access policy failed"})
		return
	}
	h.changed()
	c.JSON(http.StatusCreated, gin.H{"id": row.ID, "name": row.Name})
}

// UpdateAccessPolicy rewrites an access policy's refs and grants.
func (h *DeclarationHandler) UpdateAccessPolicy(c *gin.Context) {
	var body struct {
		ModelRefs     []string `json:"model_refs"`
		AllowedGroups []string `json:"allowed_groups"`
	}
	if errBindJSON := c.ShouldBindJSON(&body); errBindJSON != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(c.Param("name"))
	res := h.db.WithContext(c.Request.Context()).Model(&models.AccessPolicy{}).
		Where("name = ?", name).
		Updates(map[string]any{
			"model_refs":     models.StringList(body.ModelRefs).Clean(),
			"allowed_groups": models.StringList(body.AllowedGroups).Clean(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update access policy failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.changed()
	c.Status(http.StatusNoContent)
}

// ListAccessPolicies returns declared access policies. The optional group
// and model query params filter on the JSON ref columns.
func (h *DeclarationHandler) ListAccessPolicies(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context())
	if group := strings.TrimSpace(c.Query("group")); group != "" {
		query = query.Where(db.JSONArrayContainsExpr(h.db, "allowed_groups"), db.JSONArrayContainsValue(h.db, group))
	}
	if model := strings.TrimSpace(c.Query("model")); model != "" {
		query = query.Where(db.JSONArrayContainsExpr(h.db, "model_refs"), db.JSONArrayContainsValue(h.db, model))
	}
	var rows []models.AccessPolicy
	if errFind := query.Order("name ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list access policies failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":             row.ID,
			"name":           row.Name,
			"model_refs":     row.ModelRefs,
			"allowed_groups": row.AllowedGroups,
		})
	}
	c.JSON(http.StatusOK, gin.H{"access_policies": out})
}

// DeleteAccessPolicy removes an access policy declaration.
func (h *DeclarationHandler) DeleteAccessPolicy(c *gin.Context) {
	h.deleteByName(c, &models.AccessPolicy{}, "access policy")
}

// CreateSubscription declares a subscription.
func (h *DeclarationHandler) CreateSubscription(c *gin.Context) {
	var body struct {
		Name        string   `json:"name"`
		ModelRefs   []string `json:"model_refs"`
		OwnerGroup  string   `json:"owner_group"`
		LimitValue  int64    `json:"limit_value"`
		LimitWindow string   `json:"limit_window"`
	}
	if errBindJSON := c.ShouldBindJSON(&body); errBindJSON != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	group := strings.TrimSpace(body.OwnerGroup)
	if name == "" || group == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name or owner_group"})
		return
	}
	if body.LimitValue < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "negative limit_value"})
		return
	}
	window := strings.TrimSpace(body.LimitWindow)
	if window == "" {
		window = "1m"
	}
	row := models.Subscription{
		Name:        name,
		ModelRefs:   models.StringList(body.ModelRefs).Clean(),
		OwnerGroup:  group,
		LimitValue:  body.LimitValue,
		LimitWindow: window,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&row).Error; errCreate != nil {
		if errors.Is(errCreate, gorm.ErrDuplicatedKey) {
			c.JSON(http.StatusConflict, gin.H{"error": "subscription already declared"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create subscription failed"})
		return
	}
	h.changed()
	c.JSON(http.StatusCreated, gin.H{"id": row.ID, "name": row.Name})
}

// ListSubscriptions returns declared subscriptions, optionally filtered by
// model ref.
func (h *DeclarationHandler) ListSubscriptions(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context())
	if model := strings.TrimSpace(c.Query("model")); model != "" {
		query = query.Where(db.JSONArrayContainsExpr(h.db, "model_refs"), db.JSONArrayContainsValue(h.db, model))
	}
	var rows []models.Subscription
	if errFind := query.Order("name ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list subscriptions failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"id":           row.ID,
			"name":         row.Name,
			"model_refs":   row.ModelRefs,
			"owner_group":  row.OwnerGroup,
			"limit_value":  row.LimitValue,
			"limit_window": row.LimitWindow,
		})
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": out})
}

// DeleteSubscription removes a subscription declaration.
func (h *DeclarationHandler) DeleteSubscription(c *gin.Context) {
	h.deleteByName(c, &models.Subscription{}, "subscription")
}

func (h *DeclarationHandler) deleteByName(c *gin.Context, model interface{}, label string) {
	name := strings.TrimSpace(c.Param("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Where("name = ?", name).Delete(model)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete " + label + " failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	h.changed()
	c.Status(http.StatusNoContent)
}
