package front

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/config"
	"github.com/keyforged/keyforged/internal/http/api/front/handlers"
	"github.com/keyforged/keyforged/internal/security"
	"github.com/keyforged/keyforged/internal/store"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers public and authenticated self-service routes.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, keys store.KeyStore, jwtCfg config.JWTConfig) {
	if r == nil || db == nil {
		return
	}

	front := r.Group("/v0/front")

	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	front.POST("/register", authHandler.Register)
	front.POST("/login", authHandler.Login)

	authed := front.Group("")
	authed.Use(userAuthMiddleware(jwtCfg))

	apiKeyHandler := handlers.NewAPIKeyHandler(db, keys)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.GET("/api-keys/stats", apiKeyHandler.Stats)
	authed.POST("/api-keys", apiKeyHandler.Create)
	authed.GET("/api-keys/:id", apiKeyHandler.Get)
	authed.PUT("/api-keys/:id", apiKeyHandler.Update)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Delete)
}

// userAuthMiddleware validates user JWTs and loads the user ID into context.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", claims.UserID)
		c.Next()
	}
}
