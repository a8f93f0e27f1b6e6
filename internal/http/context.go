package http

import (
	"github.com/gin-gonic/gin"
	"github.com/keyforged/keyforged/internal/access"
)

// principalContextKey stores the resolved principal in gin context.
const principalContextKey = "principal"

// SetPrincipal stores the request principal in the gin context.
func SetPrincipal(c *gin.Context, p access.Principal) {
	c.Set(principalContextKey, p)
}

// GetPrincipal returns the request principal, or the anonymous principal when
// none was set.
func GetPrincipal(c *gin.Context) access.Principal {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return access.Anonymous()
	}
	p, ok := val.(access.Principal)
	if !ok {
		return access.Anonymous()
	}
	return p
}
