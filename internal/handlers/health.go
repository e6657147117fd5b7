package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// LiveCounter reports how many servers are live
type LiveCounter interface {
	LiveCount() int
}

// HealthHandler handles health check requests
type HealthHandler struct {
	servers LiveCounter
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(servers LiveCounter) *HealthHandler {
	return &HealthHandler{servers: servers}
}

// Check handles the health check endpoint
func (h *HealthHandler) Check(c *gin.Context) {
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"service":   "mcphost",
	}
	if h.servers != nil {
		body["live_servers"] = h.servers.LiveCount()
	}
	c.JSON(http.StatusOK, body)
}
