package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/mcphost/internal/connection"
	"github.com/imyashkale/mcphost/internal/models"
	"github.com/imyashkale/mcphost/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeManager implements ServerManager; unset hooks fail the call
type fakeManager struct {
	register   func(req *models.RegisterServerRequest) (*models.MCPServer, error)
	unregister func(id string) error
	stop       func(id string) (*models.MCPServer, error)
	restart    func(id string) (*models.MCPServer, error)
	info       func(id string) (*models.ServerInfo, error)
	list       func(status models.ServerStatus, enabledOnly bool) ([]*models.ServerInfo, error)
	tools      func(id string, refresh bool) ([]models.ToolSchema, error)
	execute    func(id, tool string, args, execCtx map[string]interface{}) (*models.ExecutionResult, error)
	health     func(id string) (*models.HealthReport, error)
	stats      func(id string) (*models.ServerStats, error)
	history    func(filter models.ExecutionFilter) ([]models.ExecutionRecord, error)
}

var errUnexpected = errors.New("unexpected call")

func (f *fakeManager) RegisterServer(_ context.Context, req *models.RegisterServerRequest) (*models.MCPServer, error) {
	if f.register == nil {
		return nil, errUnexpected
	}
	return f.register(req)
}

func (f *fakeManager) UnregisterServer(_ context.Context, id string) error {
	if f.unregister == nil {
		return errUnexpected
	}
	return f.unregister(id)
}

func (f *fakeManager) StopServer(_ context.Context, id string) (*models.MCPServer, error) {
	if f.stop == nil {
		return nil, errUnexpected
	}
	return f.stop(id)
}

func (f *fakeManager) RestartServer(_ context.Context, id string) (*models.MCPServer, error) {
	if f.restart == nil {
		return nil, errUnexpected
	}
	return f.restart(id)
}

func (f *fakeManager) GetServerInfo(_ context.Context, id string) (*models.ServerInfo, error) {
	if f.info == nil {
		return nil, errUnexpected
	}
	return f.info(id)
}

func (f *fakeManager) ListServers(_ context.Context, status models.ServerStatus, enabledOnly bool) ([]*models.ServerInfo, error) {
	if f.list == nil {
		return nil, errUnexpected
	}
	return f.list(status, enabledOnly)
}

func (f *fakeManager) GetTools(_ context.Context, id string, refresh bool) ([]models.ToolSchema, error) {
	if f.tools == nil {
		return nil, errUnexpected
	}
	return f.tools(id, refresh)
}

func (f *fakeManager) ExecuteTool(_ context.Context, id, toolName string, arguments, execContext map[string]interface{}) (*models.ExecutionResult, error) {
	if f.execute == nil {
		return nil, errUnexpected
	}
	return f.execute(id, toolName, arguments, execContext)
}

func (f *fakeManager) CheckHealth(_ context.Context, id string) (*models.HealthReport, error) {
	if f.health == nil {
		return nil, errUnexpected
	}
	return f.health(id)
}

func (f *fakeManager) GetServerStats(_ context.Context, id string) (*models.ServerStats, error) {
	if f.stats == nil {
		return nil, errUnexpected
	}
	return f.stats(id)
}

func (f *fakeManager) GetExecutionHistory(_ context.Context, filter models.ExecutionFilter) ([]models.ExecutionRecord, error) {
	if f.history == nil {
		return nil, errUnexpected
	}
	return f.history(filter)
}

func newTestRouter(m ServerManager) *gin.Engine {
	h := NewMCPHandler(m)
	r := gin.New()
	r.POST("/servers", h.Register)
	r.GET("/servers", h.List)
	r.GET("/servers/:id", h.Get)
	r.DELETE("/servers/:id", h.Delete)
	r.POST("/servers/:id/stop", h.Stop)
	r.POST("/servers/:id/restart", h.Restart)
	r.GET("/servers/:id/tools", h.Tools)
	r.POST("/servers/:id/tools/:tool/execute", h.Execute)
	r.GET("/servers/:id/health", h.Health)
	r.GET("/servers/:id/stats", h.Stats)
	r.GET("/executions", h.Executions)
	return r
}

func serve(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func sampleServer(id string) *models.MCPServer {
	return &models.MCPServer{
		Id:          id,
		Name:        "echo",
		DisplayName: "Echo",
		ServerType:  models.ServerTypeLocal,
		Config:      models.ServerConfig{"command": "python"},
		Enabled:     true,
		Status:      models.StatusActive,
	}
}

func TestRegister(t *testing.T) {
	m := &fakeManager{
		register: func(req *models.RegisterServerRequest) (*models.MCPServer, error) {
			assert.Equal(t, "echo", req.Name)
			assert.Equal(t, "python", req.Config.Command())
			return sampleServer("srv-1"), nil
		},
		info: func(id string) (*models.ServerInfo, error) {
			return &models.ServerInfo{Server: sampleServer(id), IsRunning: true}, nil
		},
	}

	w := serve(newTestRouter(m), http.MethodPost, "/servers", map[string]interface{}{
		"name":        "echo",
		"server_type": "local",
		"config":      map[string]interface{}{"command": "python"},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := decode(t, w)
	assert.Equal(t, "srv-1", body["id"])
	assert.Equal(t, true, body["is_running"])
	assert.Equal(t, "active", body["status"])
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"config error", &services.ConfigError{Field: "config.command", Reason: "is required"}, http.StatusBadRequest, "invalid_config"},
		{"duplicate", fmt.Errorf("%w: %w", services.ErrInvalidConfig, services.ErrDuplicateName), http.StatusConflict, "duplicate_name"},
		{"store failure", errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeManager{
				register: func(*models.RegisterServerRequest) (*models.MCPServer, error) {
					return nil, tt.err
				},
			}
			w := serve(newTestRouter(m), http.MethodPost, "/servers", map[string]interface{}{
				"name":        "echo",
				"server_type": "local",
			})
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode(t, w)["error"])
		})
	}
}

func TestRegisterMalformedBody(t *testing.T) {
	w := serve(newTestRouter(&fakeManager{}), http.MethodPost, "/servers", map[string]interface{}{
		"display_name": "missing required fields",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_request", decode(t, w)["error"])
}

func TestList(t *testing.T) {
	m := &fakeManager{
		list: func(status models.ServerStatus, enabledOnly bool) ([]*models.ServerInfo, error) {
			assert.Equal(t, models.StatusActive, status)
			assert.True(t, enabledOnly)
			return []*models.ServerInfo{
				{Server: sampleServer("a"), IsRunning: true},
				{Server: sampleServer("b")},
			}, nil
		},
	}

	w := serve(newTestRouter(m), http.MethodGet, "/servers?status=active&enabled_only=true", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.MCPServerListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)
	assert.True(t, resp.Servers[0].IsRunning)
	assert.False(t, resp.Servers[1].IsRunning)
}

func TestGetNotFound(t *testing.T) {
	m := &fakeManager{
		info: func(id string) (*models.ServerInfo, error) {
			return nil, fmt.Errorf("%w: %s", services.ErrServerNotFound, id)
		},
	}

	w := serve(newTestRouter(m), http.MethodGet, "/servers/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

func TestDelete(t *testing.T) {
	var deleted string
	m := &fakeManager{
		unregister: func(id string) error {
			deleted = id
			return nil
		},
	}

	w := serve(newTestRouter(m), http.MethodDelete, "/servers/srv-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "srv-1", deleted)
}

func TestStop(t *testing.T) {
	m := &fakeManager{
		stop: func(id string) (*models.MCPServer, error) {
			s := sampleServer(id)
			s.Status = models.StatusInactive
			return s, nil
		},
	}

	w := serve(newTestRouter(m), http.MethodPost, "/servers/srv-1/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "inactive", decode(t, w)["status"])
}

func TestRestart(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		m := &fakeManager{
			restart: func(id string) (*models.MCPServer, error) {
				return sampleServer(id), nil
			},
			info: func(id string) (*models.ServerInfo, error) {
				return &models.ServerInfo{Server: sampleServer(id), IsRunning: true}, nil
			},
		}
		w := serve(newTestRouter(m), http.MethodPost, "/servers/srv-1/restart", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["is_running"])
	})

	t.Run("startup failure", func(t *testing.T) {
		m := &fakeManager{
			restart: func(id string) (*models.MCPServer, error) {
				s := sampleServer(id)
				s.Status = models.StatusError
				s.ErrorMessage = "spawn failed"
				return s, &connection.StartupError{Server: id, Err: errors.New("spawn failed")}
			},
		}
		w := serve(newTestRouter(m), http.MethodPost, "/servers/srv-1/restart", nil)
		require.Equal(t, http.StatusBadGateway, w.Code)
		body := decode(t, w)
		assert.Equal(t, "startup_failed", body["error"])
		server := body["server"].(map[string]interface{})
		assert.Equal(t, "error", server["status"])
	})
}

func TestTools(t *testing.T) {
	t.Run("refresh flag", func(t *testing.T) {
		m := &fakeManager{
			tools: func(id string, refresh bool) ([]models.ToolSchema, error) {
				assert.True(t, refresh)
				return []models.ToolSchema{{Name: "echo"}}, nil
			},
		}
		w := serve(newTestRouter(m), http.MethodGet, "/servers/srv-1/tools?refresh=true", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp models.ToolListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "srv-1", resp.ServerId)
		assert.Equal(t, 1, resp.Total)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		m := &fakeManager{
			tools: func(string, bool) ([]models.ToolSchema, error) { return nil, nil },
		}
		w := serve(newTestRouter(m), http.MethodGet, "/servers/srv-1/tools", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"tools":[]`)
	})

	t.Run("not running", func(t *testing.T) {
		m := &fakeManager{
			tools: func(string, bool) ([]models.ToolSchema, error) {
				return nil, fmt.Errorf("%w: echo", services.ErrNotRunning)
			},
		}
		w := serve(newTestRouter(m), http.MethodGet, "/servers/srv-1/tools", nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "not_running", decode(t, w)["error"])
	})
}

func TestExecute(t *testing.T) {
	t.Run("tool failure is a 200 with an unsuccessful result", func(t *testing.T) {
		m := &fakeManager{
			execute: func(id, tool string, args, execCtx map[string]interface{}) (*models.ExecutionResult, error) {
				assert.Equal(t, "srv-1", id)
				assert.Equal(t, "search", tool)
				assert.Equal(t, "go", args["query"])
				assert.Equal(t, "c-1", execCtx["conversation_id"])
				return &models.ExecutionResult{Success: false, Status: models.ExecutionError, Error: "boom"}, nil
			},
		}
		w := serve(newTestRouter(m), http.MethodPost, "/servers/srv-1/tools/search/execute", map[string]interface{}{
			"arguments": map[string]interface{}{"query": "go"},
			"context":   map[string]interface{}{"conversation_id": "c-1"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, "error", body["status"])
		assert.Equal(t, "boom", body["error"])
	})

	t.Run("empty body", func(t *testing.T) {
		m := &fakeManager{
			execute: func(_, _ string, args, _ map[string]interface{}) (*models.ExecutionResult, error) {
				assert.NotNil(t, args)
				return &models.ExecutionResult{Success: true, Status: models.ExecutionSuccess, Result: "ok"}, nil
			},
		}
		w := serve(newTestRouter(m), http.MethodPost, "/servers/srv-1/tools/ping/execute", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("not running", func(t *testing.T) {
		m := &fakeManager{
			execute: func(string, string, map[string]interface{}, map[string]interface{}) (*models.ExecutionResult, error) {
				return nil, fmt.Errorf("%w: echo", services.ErrNotRunning)
			},
		}
		w := serve(newTestRouter(m), http.MethodPost, "/servers/srv-1/tools/ping/execute", map[string]interface{}{})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHealthAndStats(t *testing.T) {
	count := 3
	m := &fakeManager{
		health: func(string) (*models.HealthReport, error) {
			return &models.HealthReport{Healthy: true, Status: "healthy", ToolCount: &count}, nil
		},
		stats: func(id string) (*models.ServerStats, error) {
			return &models.ServerStats{ServerId: id, TotalExecutions: 5, SuccessCount: 4, ErrorCount: 1}, nil
		},
	}
	r := newTestRouter(m)

	w := serve(r, http.MethodGet, "/servers/srv-1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), decode(t, w)["tool_count"])

	w = serve(r, http.MethodGet, "/servers/srv-1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(5), decode(t, w)["total_executions"])
}

func TestExecutions(t *testing.T) {
	m := &fakeManager{
		history: func(filter models.ExecutionFilter) ([]models.ExecutionRecord, error) {
			assert.Equal(t, "srv-1", filter.ServerId)
			assert.Equal(t, models.ExecutionTimeout, filter.Status)
			assert.Equal(t, 10, filter.Limit)
			return nil, nil
		},
	}
	r := newTestRouter(m)

	w := serve(r, http.MethodGet, "/executions?server_id=srv-1&status=timeout&limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"executions":[]`)

	w = serve(r, http.MethodGet, "/executions?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
