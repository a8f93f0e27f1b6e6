package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/config"
	"github.com/keyforged/keyforged/internal/http/api/admin/handlers"
	"github.com/keyforged/keyforged/internal/security"
	"github.com/keyforged/keyforged/internal/store"
	"gorm.io/gorm"
)

// RegisterAdminRoutes registers the administrative API.
func RegisterAdminRoutes(r *gin.Engine, db *gorm.DB, keys store.KeyStore, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	group := r.Group("/v0/admin")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	group.POST("/login", authHandler.Login)

	authed := group.Group("")
	authed.Use(adminAuthMiddleware(jwtCfg))

	apiKeyHandler := handlers.NewAPIKeyHandler(db, keys)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.POST("/api-keys", apiKeyHandler.Create)
	authed.PUT("/api-keys/:id", apiKeyHandler.Update)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Delete)
	authed.POST("/api-keys/bulk-activate", apiKeyHandler.BulkActivate)
	authed.POST("/api-keys/bulk-deactivate", apiKeyHandler.BulkDeactivate)
	authed.GET("/key-policy", apiKeyHandler.GetKeyPolicy)
	authed.PUT("/key-policy", apiKeyHandler.UpdateKeyPolicy)
}

// adminAuthMiddleware validates admin JWTs and loads the admin ID into
// context.
func adminAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		token = strings.TrimSpace(token)
		if authHeader == "" || token == authHeader || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		claims, errJWT := security.ParseAdminToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("adminID", claims.AdminID)
		c.Next()
	}
}
