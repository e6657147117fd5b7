package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port string

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Storage configuration
	StoreBackend string
	DatabasePath string

	// AWS configuration
	AWSRegion string

	// DynamoDB configuration
	ServersTableName    string
	ToolsTableName      string
	ExecutionsTableName string

	// Orchestration
	HealthCheckInterval time.Duration
	HealthStopTimeout   time.Duration
	ShutdownTimeout     time.Duration
	ServerStopTimeout   time.Duration
	ToolCallTimeout     time.Duration
	StartupWorkers      int
	ServersFile         string

	// Auth configuration (optional)
	JWTSecret     string
	Auth0Domain   string
	Auth0Audience string

	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
// from .env file (if present) and OS environment.
// OS environment variables take precedence over .env file values.
// Panics if configuration values are invalid.
func New() *Config {
	// Load .env file from project root (silently ignore if not found)
	envPath := filepath.Join(".", ".env")
	_ = godotenv.Load(envPath)

	cfg := &Config{
		Port: getEnvOrDefault("PORT", "3001"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),

		StoreBackend: strings.ToLower(getEnvOrDefault("STORE_BACKEND", "sqlite")),
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "./data/mcphost.db"),

		AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),

		ServersTableName:    getEnvOrDefault("DYNAMODB_SERVERS_TABLE", "McpServers"),
		ToolsTableName:      getEnvOrDefault("DYNAMODB_TOOLS_TABLE", "McpTools"),
		ExecutionsTableName: getEnvOrDefault("DYNAMODB_EXECUTIONS_TABLE", "McpExecutions"),

		HealthCheckInterval: getDurationOrDefault("HEALTH_CHECK_INTERVAL", 60*time.Second),
		HealthStopTimeout:   getDurationOrDefault("HEALTH_STOP_TIMEOUT", 2*time.Second),
		ShutdownTimeout:     getDurationOrDefault("SHUTDOWN_TIMEOUT", 5*time.Second),
		ServerStopTimeout:   getDurationOrDefault("SERVER_STOP_TIMEOUT", 5*time.Second),
		ToolCallTimeout:     getDurationOrDefault("TOOL_CALL_TIMEOUT", 120*time.Second),
		StartupWorkers:      getIntOrDefault("STARTUP_WORKERS", 4),
		ServersFile:         os.Getenv("SERVERS_FILE"),

		JWTSecret:     os.Getenv("JWT_SECRET"),
		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),

		MetricsEnabled: getBoolOrDefault("METRICS_ENABLED", true),
	}

	// Validate configuration
	cfg.validate()

	return cfg
}

// validate checks that configuration values are present and valid
func (c *Config) validate() {
	switch c.StoreBackend {
	case "sqlite":
		if c.DatabasePath == "" {
			panic("DATABASE_PATH is required for the sqlite store")
		}
	case "dynamodb":
		var missing []string
		if c.ServersTableName == "" {
			missing = append(missing, "DYNAMODB_SERVERS_TABLE")
		}
		if c.ToolsTableName == "" {
			missing = append(missing, "DYNAMODB_TOOLS_TABLE")
		}
		if c.ExecutionsTableName == "" {
			missing = append(missing, "DYNAMODB_EXECUTIONS_TABLE")
		}
		if len(missing) > 0 {
			panic(fmt.Sprintf("Missing required configuration values: %v", missing))
		}
	default:
		panic(fmt.Sprintf("STORE_BACKEND must be sqlite or dynamodb (got '%s')", c.StoreBackend))
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		panic(fmt.Sprintf("LOG_FORMAT must be json or text (got '%s')", c.LogFormat))
	}

	durations := map[string]time.Duration{
		"HEALTH_CHECK_INTERVAL": c.HealthCheckInterval,
		"HEALTH_STOP_TIMEOUT":   c.HealthStopTimeout,
		"SHUTDOWN_TIMEOUT":      c.ShutdownTimeout,
		"SERVER_STOP_TIMEOUT":   c.ServerStopTimeout,
		"TOOL_CALL_TIMEOUT":     c.ToolCallTimeout,
	}
	for key, d := range durations {
		if d <= 0 {
			panic(fmt.Sprintf("%s must be positive (got %s)", key, d))
		}
	}

	if c.StartupWorkers < 1 {
		panic(fmt.Sprintf("STARTUP_WORKERS must be at least 1 (got %d)", c.StartupWorkers))
	}

	// Auth0 needs both halves
	if (c.Auth0Domain == "") != (c.Auth0Audience == "") {
		panic("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set together")
	}
}

// AuthEnabled reports whether API requests must carry a bearer token
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.Auth0Domain != ""
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationOrDefault parses a Go duration ("30s", "2m"). A bare number is
// taken as seconds.
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be a duration (got '%s')", key, value))
	}
	return d
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be an integer (got '%s')", key, value))
	}
	return n
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		panic(fmt.Sprintf("%s must be a boolean (got '%s')", key, value))
	}
	return b
}
