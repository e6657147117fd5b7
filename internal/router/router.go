package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcphost/internal/handlers"
	"github.com/imyashkale/mcphost/internal/middleware"
)

// Setup configures and returns the application router. A nil metrics
// handler leaves /metrics unrouted.
func Setup(
	healthHandler *handlers.HealthHandler,
	mcpHandler *handlers.MCPHandler,
	auth *middleware.AuthConfig,
	metricsHandler http.Handler,
) *gin.Engine {

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	// Apply CORS middleware globally
	router.Use(middleware.CORS())

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Health stays reachable for liveness checks without a token
	v1.GET("/health", healthHandler.Check)

	protected := v1.Group("")
	protected.Use(middleware.Authentication(auth))

	servers := protected.Group("/servers")
	{
		servers.POST("", mcpHandler.Register)
		servers.GET("", mcpHandler.List)
		servers.GET("/:id", mcpHandler.Get)
		servers.DELETE("/:id", mcpHandler.Delete)
		servers.POST("/:id/stop", mcpHandler.Stop)
		servers.POST("/:id/restart", mcpHandler.Restart)
		servers.GET("/:id/tools", mcpHandler.Tools)
		servers.POST("/:id/tools/:tool/execute", mcpHandler.Execute)
		servers.GET("/:id/health", mcpHandler.Health)
		servers.GET("/:id/stats", mcpHandler.Stats)
	}

	protected.GET("/executions", mcpHandler.Executions)

	return router
}
