package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/models"
	"github.com/keyforged/keyforged/internal/settings"
	"github.com/keyforged/keyforged/internal/store"
	"gorm.io/gorm"
)

// APIKeyHandler handles administrative API key endpoints with full
// visibility across owners. Secrets are still rendered masked; the full
// value only ever appears in the creation response.
type APIKeyHandler struct {
	db   *gorm.DB
	keys store.KeyStore
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB, keys store.KeyStore) *APIKeyHandler {
	return &APIKeyHandler{db: db, keys: keys}
}

// listAPIKeysQuery defines query parameters for listing keys.
type listAPIKeysQuery struct {
	Page   int    `form:"page,default=1"`
	Limit  int    `form:"limit,default=20"`
	Search string `form:"search"`
	Status string `form:"status"`
	UserID uint64 `form:"user_id"`
}

// serializeAdminAPIKey converts a record to an admin response payload.
func serializeAdminAPIKey(row *models.APIKey) gin.H {
	var owner gin.H
	if row.User != nil {
		owner = gin.H{"id": row.User.ID, "username": row.User.Username}
	}
	return gin.H{
		"id":             row.ID,
		"owner":          owner,
		"name":           row.Name,
		"key_prefix":     row.MaskedKey(),
		"active":         row.Active,
		"status":         row.Status(),
		"expires_at":     row.ExpiresAt,
		"requests_count": row.RequestsCount,
		"max_requests":   row.MaxRequests,
		"reset_at":       row.ResetAt,
		"last_used_at":   row.LastUsedAt,
		"created_at":     row.CreatedAt,
		"updated_at":     row.UpdatedAt,
	}
}

// List returns a paginated list of keys across all owners.
func (h *APIKeyHandler) List(c *gin.Context) {
	var q listAPIKeysQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}

	filter := store.ListFilter{
		Page:   q.Page,
		Limit:  q.Limit,
		Search: q.Search,
		Status: q.Status,
	}
	if q.UserID != 0 {
		filter.UserID = &q.UserID
	}

	rows, total, errList := h.keys.List(c.Request.Context(), filter)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, serializeAdminAPIKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"api_keys": out,
		"total":    total,
		"page":     filter.Page,
		"limit":    filter.Limit,
	})
}

// createAPIKeyRequest defines the request body for admin key creation. A
// missing user_id creates an anonymous key.
type createAPIKeyRequest struct {
	Name        string  `json:"name"`
	UserID      *uint64 `json:"user_id"`
	ExpiresIn   *int    `json:"expires_in_days"`
	MaxRequests *int64  `json:"max_requests"`
}

// Create issues a key for any owner, or an anonymous one.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var body createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	params := store.CreateParams{
		UserID:      body.UserID,
		Name:        strings.TrimSpace(body.Name),
		MaxRequests: body.MaxRequests,
	}
	if body.ExpiresIn != nil && *body.ExpiresIn > 0 {
		exp := time.Now().UTC().AddDate(0, 0, *body.ExpiresIn)
		params.ExpiresAt = &exp
	}

	row, errCreate := h.keys.Create(c.Request.Context(), params)
	if errCreate != nil {
		if errors.Is(errCreate, store.ErrOwnerNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "owner not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":   row.ID,
		"name": row.Name,
		"key":  row.Key,
	})
}

// updateAPIKeyRequest defines the admin-mutable fields. Quota fields accept
// explicit zero values to clear the ceiling or window.
type updateAPIKeyRequest struct {
	Active      *bool   `json:"active"`
	ExpiresIn   *int    `json:"expires_in_days"`
	MaxRequests *int64  `json:"max_requests"`
	ResetIn     *string `json:"reset_in"`
}

// Update applies administrative changes to a key.
func (h *APIKeyHandler) Update(c *gin.Context) {
	id, errParse := parseIDParam(c)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	var body updateAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	params := store.AdminUpdateParams{Active: body.Active}
	if body.ExpiresIn != nil {
		if *body.ExpiresIn <= 0 {
			params.ClearExpiresAt = true
		} else {
			exp := time.Now().UTC().AddDate(0, 0, *body.ExpiresIn)
			params.ExpiresAt = &exp
		}
	}
	if body.MaxRequests != nil {
		if *body.MaxRequests <= 0 {
			params.ClearMaxRequests = true
		} else {
			params.MaxRequests = body.MaxRequests
		}
	}
	if body.ResetIn != nil {
		trimmed := strings.TrimSpace(*body.ResetIn)
		if trimmed == "" {
			params.ClearResetAt = true
		} else {
			period, errDuration := time.ParseDuration(trimmed)
			if errDuration != nil || period <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reset_in"})
				return
			}
			reset := time.Now().UTC().Add(period)
			params.ResetAt = &reset
		}
	}

	if errUpdate := h.keys.AdminUpdate(c.Request.Context(), id, params); errUpdate != nil {
		if errors.Is(errUpdate, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes a key regardless of owner.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, errParse := parseIDParam(c)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if errDelete := h.keys.AdminDelete(c.Request.Context(), id); errDelete != nil {
		if errors.Is(errDelete, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// bulkActiveRequest defines the request body for bulk activation changes.
type bulkActiveRequest struct {
	IDs []uint64 `json:"ids"`
}

// BulkActivate enables the given keys.
func (h *APIKeyHandler) BulkActivate(c *gin.Context) {
	h.bulkSetActive(c, true)
}

// BulkDeactivate disables the given keys.
func (h *APIKeyHandler) BulkDeactivate(c *gin.Context) {
	h.bulkSetActive(c, false)
}

func (h *APIKeyHandler) bulkSetActive(c *gin.Context, active bool) {
	var body bulkActiveRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.IDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing ids"})
		return
	}

	updated, errBulk := h.keys.SetActiveBulk(c.Request.Context(), body.IDs, active)
	if errBulk != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "bulk update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// GetKeyPolicy returns the current issuance policy.
func (h *APIKeyHandler) GetKeyPolicy(c *gin.Context) {
	c.JSON(http.StatusOK, settings.CurrentKeyPolicy())
}

// UpdateKeyPolicy persists a new issuance policy.
func (h *APIKeyHandler) UpdateKeyPolicy(c *gin.Context) {
	var policy settings.KeyPolicy
	if errBind := c.ShouldBindJSON(&policy); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if errSave := settings.SaveKeyPolicy(c.Request.Context(), h.db, policy); errSave != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save policy failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// parseIDParam parses the :id path parameter.
func parseIDParam(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
}
