package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/imyashkale/mcphost/internal/handlers"
	"github.com/imyashkale/mcphost/internal/metrics"
	"github.com/imyashkale/mcphost/internal/middleware"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// emptyManager answers every query with an empty result
type emptyManager struct{ handlers.ServerManager }

func (emptyManager) ListServers(context.Context, models.ServerStatus, bool) ([]*models.ServerInfo, error) {
	return nil, nil
}

func (emptyManager) LiveCount() int { return 0 }

func get(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSetupRoutes(t *testing.T) {
	m := emptyManager{}
	r := Setup(handlers.NewHealthHandler(m), handlers.NewMCPHandler(m), &middleware.AuthConfig{}, metrics.NewCollector().Handler())

	assert.Equal(t, http.StatusOK, get(r, "/api/v1/health", "").Code)
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/servers", "").Code)

	w := get(r, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mcphost_live_servers")

	assert.Equal(t, http.StatusNotFound, get(r, "/api/v1/unknown", "").Code)
}

func TestSetupWithoutMetrics(t *testing.T) {
	m := emptyManager{}
	r := Setup(handlers.NewHealthHandler(m), handlers.NewMCPHandler(m), &middleware.AuthConfig{}, nil)

	assert.Equal(t, http.StatusNotFound, get(r, "/metrics", "").Code)
}

func TestSetupRequiresAuth(t *testing.T) {
	m := emptyManager{}
	auth := &middleware.AuthConfig{JWTSecret: "s3cret"}
	r := Setup(handlers.NewHealthHandler(m), handlers.NewMCPHandler(m), auth, nil)

	// Health stays open
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/api/v1/servers", "").Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(r, "/api/v1/servers", token).Code)
}
