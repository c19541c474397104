package diagrams

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flowsmith/bpmn-backend/internal/api/http/middleware"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/domain"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/repository"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/service"
)

// Handler exposes the diagram persistence engine over HTTP. It is thin on
// purpose: identity comes from middleware, all decisions live in the services.
type Handler struct {
	diagrams *service.DiagramService
	queries  *service.QueryService
}

func NewHandler(diagrams *service.DiagramService, queries *service.QueryService) *Handler {
	return &Handler{diagrams: diagrams, queries: queries}
}

func (h *Handler) Register(r gin.IRouter) {
	r.POST("/diagrams", h.create)
	r.GET("/diagrams", h.list)
	r.GET("/diagrams/:id", h.get)
	r.PUT("/diagrams/:id", h.save)
	r.DELETE("/diagrams/:id", h.delete)
	r.GET("/diagrams/:id/versions", h.listVersions)
	r.GET("/diagrams/:id/versions/:version", h.getVersion)
}

func (h *Handler) create(c *gin.Context) {
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	tenantID := c.GetString(middleware.TenantIDKey)
	authorID := c.GetString(middleware.AuthorIDKey)

	d, err := h.diagrams.Create(c.Request.Context(), tenantID, authorID, service.CreateRequest{
		ProjectID: req.ProjectID,
		Title:     req.Title,
		Content:   req.Content,
		Metadata:  req.Metadata,
		Message:   req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"ok": true, "diagram": d})
}

func (h *Handler) save(c *gin.Context) {
	var req saveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	tenantID := c.GetString(middleware.TenantIDKey)
	authorID := c.GetString(middleware.AuthorIDKey)

	d, err := h.diagrams.Save(c.Request.Context(), tenantID, c.Param("id"), authorID, service.SaveRequest{
		Title:           req.Title,
		Content:         req.Content,
		Metadata:        req.Metadata,
		Message:         req.Message,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "diagram": d})
}

func (h *Handler) delete(c *gin.Context) {
	var req deleteReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	tenantID := c.GetString(middleware.TenantIDKey)
	authorID := c.GetString(middleware.AuthorIDKey)

	if err := h.diagrams.SoftDelete(c.Request.Context(), tenantID, c.Param("id"), authorID, req.ExpectedVersion); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) get(c *gin.Context) {
	tenantID := c.GetString(middleware.TenantIDKey)

	d, err := h.queries.GetDiagram(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "diagram": d})
}

func (h *Handler) list(c *gin.Context) {
	tenantID := c.GetString(middleware.TenantIDKey)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	page, err := h.queries.ListSummaries(c.Request.Context(), tenantID, repository.SummaryFilter{
		ProjectID:  c.Query("project_id"),
		SearchText: c.Query("q"),
		Cursor:     c.Query("cursor"),
		Limit:      limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "page": page})
}

func (h *Handler) listVersions(c *gin.Context) {
	tenantID := c.GetString(middleware.TenantIDKey)

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	versions, err := h.queries.ListVersions(c.Request.Context(), tenantID, c.Param("id"), limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "versions": versions})
}

func (h *Handler) getVersion(c *gin.Context) {
	tenantID := c.GetString(middleware.TenantIDKey)

	version, err := strconv.ParseInt(c.Param("version"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid version"})
		return
	}

	v, content, err := h.queries.GetVersion(c.Request.Context(), tenantID, c.Param("id"), version)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "version": v, "content_text": content})
}

// writeError maps domain errors to stable machine-readable responses. Store
// internals never leak: anything unrecognized becomes a generic write_failed.
func writeError(c *gin.Context, err error) {
	if conflict, ok := domain.AsConflict(err); ok {
		c.JSON(http.StatusConflict, gin.H{
			"ok":              false,
			"code":            "conflict",
			"error":           "version conflict",
			"current_version": conflict.CurrentVersion,
			"summary":         conflict.Summary,
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"ok": false, "code": "not_found", "error": "diagram not found"})
	case errors.Is(err, domain.ErrQuotaExceeded):
		c.JSON(http.StatusPaymentRequired, gin.H{"ok": false, "code": "quota_exceeded", "error": "diagram quota exceeded"})
	case errors.Is(err, domain.ErrValidationFailed):
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "code": "validation_failed", "error": err.Error()})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "code": "write_failed", "error": "storage error, retry with a fresh version"})
	}
}
