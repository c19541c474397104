package bootstrap

import (
	"database/sql"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	httpapi "github.com/flowsmith/bpmn-backend/internal/api/http"
	diagramsapi "github.com/flowsmith/bpmn-backend/internal/api/http/diagrams"
	"github.com/flowsmith/bpmn-backend/internal/api/http/middleware"
	"github.com/flowsmith/bpmn-backend/internal/diagrams/service"
	"github.com/flowsmith/bpmn-backend/internal/platform/logger"
)

type RouterDeps struct {
	ServiceName    string
	Version        string
	DB             *sql.DB
	Redis          *redis.Client
	DiagramService *service.DiagramService
	QueryService   *service.QueryService
	Log            *logger.Logger
}

func BuildRouter(dep RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.Default())

	healthHandler := httpapi.NewHealthHandler(dep.ServiceName, dep.Version, dep.DB, dep.Redis)
	healthHandler.RegisterRoutes(r)

	api := r.Group("/api/v1")
	api.Use(middleware.RequestIDMiddleware(dep.Log))
	api.Use(middleware.TenantContextMiddleware())

	handler := diagramsapi.NewHandler(dep.DiagramService, dep.QueryService)
	handler.Register(api)

	return r
}
