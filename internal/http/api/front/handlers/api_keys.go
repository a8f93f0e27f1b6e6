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
	"github.com/keyforged/keyforged/internal/usage"
	"gorm.io/gorm"
)

// APIKeyHandler handles self-service API key endpoints. Every operation is
// scoped to the authenticated owner; foreign keys look like missing ones.
type APIKeyHandler struct {
	db   *gorm.DB
	keys store.KeyStore
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB, keys store.KeyStore) *APIKeyHandler {
	return &APIKeyHandler{db: db, keys: keys}
}

// serializeAPIKey converts a record to a response payload. The secret is
// never included; only the masked leading fragment is rendered.
func serializeAPIKey(row *models.APIKey) gin.H {
	return gin.H{
		"id":             row.ID,
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

// List returns the caller's API keys, newest first.
func (h *APIKeyHandler) List(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	rows, errFind := h.keys.FindByOwner(c.Request.Context(), userID)
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, serializeAPIKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": out, "total": len(out)})
}

// Stats returns aggregate API key statistics for the caller.
func (h *APIKeyHandler) Stats(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	stats, errStats := usage.StatsForOwner(c.Request.Context(), h.db, userID)
	if errStats != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats failed"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// createAPIKeyRequest defines the request body for creating keys.
type createAPIKeyRequest struct {
	Name      string `json:"name"`
	ExpiresIn *int   `json:"expires_in_days"`
}

// Create issues a new key owned by the caller. The full secret appears in
// this response only; all later reads return the masked form.
func (h *APIKeyHandler) Create(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var body createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	params := store.CreateParams{
		UserID: &userID,
		Name:   strings.TrimSpace(body.Name),
	}

	policy := settings.CurrentKeyPolicy()
	now := time.Now().UTC()
	switch {
	case body.ExpiresIn != nil && *body.ExpiresIn > 0:
		exp := now.AddDate(0, 0, *body.ExpiresIn)
		params.ExpiresAt = &exp
	case body.ExpiresIn == nil && policy.DefaultExpiryDays > 0:
		exp := now.AddDate(0, 0, policy.DefaultExpiryDays)
		params.ExpiresAt = &exp
	}
	if policy.DefaultMaxRequests > 0 {
		max := policy.DefaultMaxRequests
		params.MaxRequests = &max
	}

	row, errCreate := h.keys.Create(c.Request.Context(), params)
	if errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         row.ID,
		"name":       row.Name,
		"key":        row.Key,
		"expires_at": row.ExpiresAt,
	})
}

// Get returns one of the caller's keys.
func (h *APIKeyHandler) Get(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, errParse := parseIDParam(c)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	row, errGet := h.keys.GetOwned(c.Request.Context(), id, userID)
	if errGet != nil {
		if errors.Is(errGet, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "get api key failed"})
		return
	}
	c.JSON(http.StatusOK, serializeAPIKey(row))
}

// updateAPIKeyRequest defines the owner-mutable fields.
type updateAPIKeyRequest struct {
	Active    *bool `json:"active"`
	ExpiresIn *int  `json:"expires_in_days"`
}

// Update toggles the active flag or adjusts expiry on the caller's key.
func (h *APIKeyHandler) Update(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

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

	params := store.UpdateParams{Active: body.Active}
	if body.ExpiresIn != nil {
		if *body.ExpiresIn <= 0 {
			params.ClearExpiresAt = true
		} else {
			exp := time.Now().UTC().AddDate(0, 0, *body.ExpiresIn)
			params.ExpiresAt = &exp
		}
	}

	if errUpdate := h.keys.Update(c.Request.Context(), id, userID, params); errUpdate != nil {
		if errors.Is(errUpdate, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Delete removes the caller's key permanently.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	id, errParse := parseIDParam(c)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	if errDelete := h.keys.Delete(c.Request.Context(), id, userID); errDelete != nil {
		if errors.Is(errDelete, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// parseIDParam parses the :id path parameter.
func parseIDParam(c *gin.Context) (uint64, error) {
	return strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
}
