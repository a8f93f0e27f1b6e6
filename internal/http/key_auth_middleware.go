package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/access"
	"github.com/keyforged/keyforged/internal/quota"
	"github.com/keyforged/keyforged/internal/usage"
	log "github.com/sirupsen/logrus"
)

// genericAuthFailure is the only rejection body authentication ever returns.
// The distinct reason goes to logs so the wire response leaks nothing about
// key existence or state.
const genericAuthFailure = "authentication failed"

// KeyAuthMiddleware authenticates API keys, consumes quota, and records
// usage. Requests without a credential pass through unauthenticated so other
// authentication strategies can claim them.
func KeyAuthMiddleware(engine *access.Engine, enforcer quota.Enforcer, recorder *usage.Recorder, header string) gin.HandlerFunc {
	header = strings.TrimSpace(header)
	if header == "" {
		header = "Authorization"
	}
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(header))

		key, principal, errAuth := engine.Authenticate(c.Request.Context(), raw)
		if errAuth != nil {
			if errors.Is(errAuth, access.ErrNoCredential) {
				c.Next()
				return
			}
			logAuthFailure(c, errAuth)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": genericAuthFailure})
			return
		}

		if errQuota := enforcer.CheckAndConsume(c.Request.Context(), key); errQuota != nil {
			logAuthFailure(c, errQuota)
			if errors.Is(errQuota, quota.ErrQuotaExceeded) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": genericAuthFailure})
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication service error"})
			}
			return
		}

		SetPrincipal(c, principal)
		c.Next()

		if recorder != nil {
			recorder.Record(c.Request.Context(), key.ID, key.UserID, c.Request.Method, c.Request.URL.Path, c.Writer.Status())
		}
	}
}

// logAuthFailure logs the internal rejection reason with request context.
func logAuthFailure(c *gin.Context, reason error) {
	entry := log.WithFields(log.Fields{
		"path":   c.Request.URL.Path,
		"method": c.Request.Method,
		"reason": reason.Error(),
	})
	switch {
	case errors.Is(reason, access.ErrInvalidCredential),
		errors.Is(reason, access.ErrCredentialDisabled),
		errors.Is(reason, access.ErrCredentialExpired),
		errors.Is(reason, quota.ErrQuotaExceeded):
		entry.Info("api key rejected")
	default:
		entry.WithError(reason).Error("api key authentication error")
	}
}

// RequireAPIKey is the access boundary: it only admits requests whose
// principal was derived from an API key.
func RequireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !access.Permit(GetPrincipal(c)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": genericAuthFailure})
			return
		}
		c.Next()
	}
}
