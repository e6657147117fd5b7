package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/imyashkale/mcphost/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg := New()

	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, "./data/mcphost.db", cfg.DatabasePath)
	assert.Equal(t, 60*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 2*time.Second, cfg.HealthStopTimeout)
	assert.Equal(t, 5*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Second, cfg.ServerStopTimeout)
	assert.Equal(t, 120*time.Second, cfg.ToolCallTimeout)
	assert.Equal(t, 4, cfg.StartupWorkers)
	assert.True(t, cfg.MetricsEnabled)
	assert.False(t, cfg.AuthEnabled())
}

func TestNewFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "8080")
	t.Setenv("LOG_FORMAT", "TEXT")
	t.Setenv("STORE_BACKEND", "dynamodb")
	t.Setenv("DYNAMODB_SERVERS_TABLE", "servers")
	t.Setenv("HEALTH_CHECK_INTERVAL", "15s")
	t.Setenv("TOOL_CALL_TIMEOUT", "30")
	t.Setenv("STARTUP_WORKERS", "8")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("JWT_SECRET", "s3cret")

	cfg := New()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "dynamodb", cfg.StoreBackend)
	assert.Equal(t, "servers", cfg.ServersTableName)
	assert.Equal(t, "McpTools", cfg.ToolsTableName)
	assert.Equal(t, 15*time.Second, cfg.HealthCheckInterval)
	assert.Equal(t, 30*time.Second, cfg.ToolCallTimeout)
	assert.Equal(t, 8, cfg.StartupWorkers)
	assert.False(t, cfg.MetricsEnabled)
	assert.True(t, cfg.AuthEnabled())
}

func TestNewLoadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9999\nLOG_LEVEL=DEBUG\n"), 0o600))
	t.Setenv("LOG_LEVEL", "WARN")
	// godotenv sets PORT in the process environment; restore it afterwards
	t.Setenv("PORT", "")
	os.Unsetenv("PORT")

	cfg := New()

	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "WARN", cfg.LogLevel)
}

func TestNewPanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "unknown backend", key: "STORE_BACKEND", val: "postgres"},
		{name: "bad log format", key: "LOG_FORMAT", val: "xml"},
		{name: "bad duration", key: "SHUTDOWN_TIMEOUT", val: "soon"},
		{name: "negative duration", key: "TOOL_CALL_TIMEOUT", val: "-5s"},
		{name: "zero workers", key: "STARTUP_WORKERS", val: "0"},
		{name: "non numeric workers", key: "STARTUP_WORKERS", val: "many"},
		{name: "bad bool", key: "METRICS_ENABLED", val: "maybe"},
		{name: "half auth0", key: "AUTH0_DOMAIN", val: "tenant.auth0.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			t.Setenv(tt.key, tt.val)

			assert.Panics(t, func() { New() })
		})
	}
}

func TestLoadServers(t *testing.T) {
	t.Setenv("SEARCH_API_KEY", "abc123")

	path := filepath.Join(t.TempDir(), "servers.yaml")
	content := `servers:
  - name: echo
    display_name: Echo Server
    server_type: local
    config:
      command: python
      args: ["echo_server.py", "--verbose"]
      env:
        API_KEY: ${SEARCH_API_KEY}
        nested:
          level: 2
    resource_limits:
      max_memory_mb: 256
      max_execution_time_seconds: 600
    auto_start: false
  - name: remote1
    server_type: remote
    config:
      url: https://tools.internal:8443
      tls_verify: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	servers, err := LoadServers(path)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	echo := servers[0]
	assert.Equal(t, "echo", echo.Name)
	assert.Equal(t, "Echo Server", echo.DisplayName)
	assert.Equal(t, models.ServerTypeLocal, echo.ServerType)
	assert.Equal(t, "python", echo.Config.Command())
	assert.Equal(t, []string{"echo_server.py", "--verbose"}, echo.Config.Args())
	assert.Equal(t, "abc123", echo.Config.Env()["API_KEY"])
	require.NotNil(t, echo.ResourceLimits)
	assert.Equal(t, 256, echo.ResourceLimits.MaxMemoryMB)
	assert.Equal(t, 600, echo.ResourceLimits.MaxExecutionTimeSeconds)
	assert.False(t, echo.ShouldAutoStart())

	env, ok := echo.Config["env"].(map[string]interface{})
	require.True(t, ok)
	assert.IsType(t, map[string]interface{}{}, env["nested"])

	remote := servers[1]
	assert.Equal(t, models.ServerTypeRemote, remote.ServerType)
	assert.Equal(t, "https://tools.internal:8443", remote.Config.URL())
	assert.True(t, remote.Config.TLSVerify())
	assert.True(t, remote.ShouldAutoStart())
}

func TestLoadServersErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "missing name", content: "servers:\n  - server_type: local\n", wantErr: "name is required"},
		{name: "duplicate", content: "servers:\n  - {name: a, server_type: local}\n  - {name: a, server_type: local}\n", wantErr: "duplicate name"},
		{name: "bad type", content: "servers:\n  - {name: a, server_type: docker}\n", wantErr: "server_type"},
		{name: "bad yaml", content: "servers: [", wantErr: "parsing servers file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "servers.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))

			_, err := LoadServers(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := LoadServers(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
