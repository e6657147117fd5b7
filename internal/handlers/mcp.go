package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcphost/internal/connection"
	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/imyashkale/mcphost/internal/services"
)

// ServerManager is the orchestration surface the HTTP layer exposes
type ServerManager interface {
	RegisterServer(ctx context.Context, req *models.RegisterServerRequest) (*models.MCPServer, error)
	UnregisterServer(ctx context.Context, id string) error
	StopServer(ctx context.Context, id string) (*models.MCPServer, error)
	RestartServer(ctx context.Context, id string) (*models.MCPServer, error)
	GetServerInfo(ctx context.Context, id string) (*models.ServerInfo, error)
	ListServers(ctx context.Context, status models.ServerStatus, enabledOnly bool) ([]*models.ServerInfo, error)
	GetTools(ctx context.Context, id string, refresh bool) ([]models.ToolSchema, error)
	ExecuteTool(ctx context.Context, id, toolName string, arguments, execContext map[string]interface{}) (*models.ExecutionResult, error)
	CheckHealth(ctx context.Context, id string) (*models.HealthReport, error)
	GetServerStats(ctx context.Context, id string) (*models.ServerStats, error)
	GetExecutionHistory(ctx context.Context, filter models.ExecutionFilter) ([]models.ExecutionRecord, error)
}

// MCPHandler handles MCP server-related requests
type MCPHandler struct {
	manager ServerManager
}

// NewMCPHandler creates a new MCP handler
func NewMCPHandler(manager ServerManager) *MCPHandler {
	return &MCPHandler{
		manager: manager,
	}
}

// Register handles registering a new MCP server
// POST /api/v1/servers
func (h *MCPHandler) Register(c *gin.Context) {
	var req models.RegisterServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	server, err := h.manager.RegisterServer(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to register MCP server")
		return
	}

	info, err := h.manager.GetServerInfo(c.Request.Context(), server.Id)
	if err != nil {
		c.JSON(http.StatusCreated, server.ToResponse())
		return
	}
	c.JSON(http.StatusCreated, info.ToResponse())
}

// List handles listing MCP servers with optional status and enabled filters
// GET /api/v1/servers
func (h *MCPHandler) List(c *gin.Context) {
	status := models.ServerStatus(c.Query("status"))
	enabledOnly, _ := strconv.ParseBool(c.Query("enabled_only"))

	infos, err := h.manager.ListServers(c.Request.Context(), status, enabledOnly)
	if err != nil {
		respondError(c, err, "Failed to retrieve MCP servers")
		return
	}

	responses := make([]models.MCPServerResponse, 0, len(infos))
	for _, info := range infos {
		responses = append(responses, info.ToResponse())
	}

	c.JSON(http.StatusOK, models.MCPServerListResponse{
		Servers: responses,
		Total:   len(responses),
	})
}

// Get handles retrieving a single MCP server by ID
// GET /api/v1/servers/:id
func (h *MCPHandler) Get(c *gin.Context) {
	info, err := h.manager.GetServerInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve MCP server")
		return
	}
	c.JSON(http.StatusOK, info.ToResponse())
}

// Delete handles unregistering an MCP server
// DELETE /api/v1/servers/:id
func (h *MCPHandler) Delete(c *gin.Context) {
	if err := h.manager.UnregisterServer(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err, "Failed to delete MCP server")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "MCP server deleted successfully",
	})
}

// Stop handles stopping a live MCP server
// POST /api/v1/servers/:id/stop
func (h *MCPHandler) Stop(c *gin.Context) {
	server, err := h.manager.StopServer(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to stop MCP server")
		return
	}
	c.JSON(http.StatusOK, server.ToResponse())
}

// Restart handles restarting an MCP server
// POST /api/v1/servers/:id/restart
func (h *MCPHandler) Restart(c *gin.Context) {
	server, err := h.manager.RestartServer(c.Request.Context(), c.Param("id"))
	if err != nil && server == nil {
		respondError(c, err, "Failed to restart MCP server")
		return
	}
	if err != nil {
		// The record carries the error state
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "startup_failed",
			"message": err.Error(),
			"server":  server.ToResponse(),
		})
		return
	}

	info, err := h.manager.GetServerInfo(c.Request.Context(), server.Id)
	if err != nil {
		respondError(c, err, "Failed to restart MCP server")
		return
	}
	c.JSON(http.StatusOK, info.ToResponse())
}

// Tools handles listing the tools of a server
// GET /api/v1/servers/:id/tools
func (h *MCPHandler) Tools(c *gin.Context) {
	id := c.Param("id")
	refresh, _ := strconv.ParseBool(c.Query("refresh"))

	tools, err := h.manager.GetTools(c.Request.Context(), id, refresh)
	if err != nil {
		respondError(c, err, "Failed to retrieve tools")
		return
	}
	if tools == nil {
		tools = []models.ToolSchema{}
	}

	c.JSON(http.StatusOK, models.ToolListResponse{
		ServerId: id,
		Tools:    tools,
		Total:    len(tools),
	})
}

// Execute handles invoking a tool on a live server. Tool failures are part
// of the result body, not the status code.
// POST /api/v1/servers/:id/tools/:tool/execute
func (h *MCPHandler) Execute(c *gin.Context) {
	var req models.ExecuteToolRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": err.Error(),
			})
			return
		}
	}
	if req.Arguments == nil {
		req.Arguments = map[string]interface{}{}
	}

	result, err := h.manager.ExecuteTool(c.Request.Context(), c.Param("id"), c.Param("tool"), req.Arguments, req.Context)
	if err != nil {
		respondError(c, err, "Failed to execute tool")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Health handles probing a single server
// GET /api/v1/servers/:id/health
func (h *MCPHandler) Health(c *gin.Context) {
	report, err := h.manager.CheckHealth(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to check server health")
		return
	}
	c.JSON(http.StatusOK, report)
}

// Stats handles aggregating the execution log of a server
// GET /api/v1/servers/:id/stats
func (h *MCPHandler) Stats(c *gin.Context) {
	stats, err := h.manager.GetServerStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err, "Failed to retrieve server stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Executions handles querying the execution history
// GET /api/v1/executions
func (h *MCPHandler) Executions(c *gin.Context) {
	filter := models.ExecutionFilter{
		ServerId: c.Query("server_id"),
		Status:   models.ExecutionStatus(c.Query("status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_request",
				"message": "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}

	records, err := h.manager.GetExecutionHistory(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err, "Failed to retrieve execution history")
		return
	}
	if records == nil {
		records = []models.ExecutionRecord{}
	}

	c.JSON(http.StatusOK, models.ExecutionListResponse{
		Executions: records,
		Total:      len(records),
	})
}

// respondError maps the orchestration error taxonomy to HTTP status codes
func respondError(c *gin.Context, err error, fallback string) {
	var startupErr *connection.StartupError

	switch {
	case errors.Is(err, services.ErrDuplicateName):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "duplicate_name",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrInvalidConfig):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_config",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrServerNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "MCP server not found",
		})
	case errors.Is(err, services.ErrNotRunning):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "not_running",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": err.Error(),
		})
	case errors.As(err, &startupErr):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "startup_failed",
			"message": err.Error(),
		})
	default:
		logger.WithFields(map[string]interface{}{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": fallback,
		})
	}
}
