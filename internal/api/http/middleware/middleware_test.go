package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
)

func TestRequestIDMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	newRouter := func(capture *string) *gin.Engine {
		r := gin.New()
		r.Use(RequestIDMiddleware(logger.NewNop()))
		r.GET("/ping", func(c *gin.Context) {
			*capture = GetRequestID(c.Request.Context())
			c.Status(http.StatusOK)
		})
		return r
	}

	t.Run("echoes a caller-provided request id", func(t *testing.T) {
		var seen string
		r := newRouter(&seen)

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Request-Id", "req-abc123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-abc123", w.Header().Get("X-Request-Id"))
		assert.Equal(t, "req-abc123", seen)
	})

	t.Run("generates an id when none is provided", func(t *testing.T) {
		var seen string
		r := newRouter(&seen)

		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
		assert.Equal(t, w.Header().Get("X-Request-Id"), seen)
	})
}

func TestTenantContextMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(TenantContextMiddleware())
	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tenant": c.GetString(TenantIDKey),
			"author": c.GetString(AuthorIDKey),
		})
	})

	t.Run("injects tenant and author from headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Tenant-Id", "tenant-a")
		req.Header.Set("X-Author-Id", "user-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "tenant-a")
		assert.Contains(t, w.Body.String(), "user-1")
	})

	t.Run("rejects requests without a tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Tenant-Id", "   ")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
