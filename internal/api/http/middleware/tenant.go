package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	TenantIDKey = "tenant_id"
	AuthorIDKey = "author_id"
)

// TenantContextMiddleware reads the identity the auth gateway injected. The
// gateway has already validated the session; this service only tenant-scopes
// every query with what it is handed.
func TenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
		authorID := strings.TrimSpace(c.GetHeader("X-Author-Id"))

		if tenantID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "missing tenant identity"})
			c.Abort()
			return
		}

		c.Set(TenantIDKey, tenantID)
		c.Set(AuthorIDKey, authorID)
		c.Next()
	}
}
