package models

import "time"

// ServerType selects the transport used to reach an MCP server
type ServerType string

const (
	ServerTypeLocal  ServerType = "local"
	ServerTypeRemote ServerType = "remote"
)

// Valid reports whether t is a known server type
func (t ServerType) Valid() bool {
	return t == ServerTypeLocal || t == ServerTypeRemote
}

// ServerStatus is the lifecycle state of a registered server
type ServerStatus string

const (
	StatusInactive ServerStatus = "inactive"
	StatusStarting ServerStatus = "starting"
	StatusActive   ServerStatus = "active"
	StatusStopping ServerStatus = "stopping"
	StatusError    ServerStatus = "error"
)

// HealthStatus is the result of the last health check
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// MCPServer represents the domain model for a registered MCP server
// This is a database-agnostic business entity
type MCPServer struct {
	Id             string
	Name           string
	DisplayName    string
	Description    string
	ServerType     ServerType
	Config         ServerConfig
	SandboxEnabled bool
	ResourceLimits *ResourceLimits
	Enabled        bool
	Status         ServerStatus
	HealthStatus   HealthStatus
	TotalToolCalls int64
	TotalErrors    int64
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastUsedAt     *time.Time
	LastHealthAt   *time.Time
}

// ResourceLimits bounds a sandboxed local server. Zero values fall back to
// the sandbox defaults.
type ResourceLimits struct {
	MaxMemoryMB             int `json:"max_memory_mb,omitempty" yaml:"max_memory_mb" dynamodbav:"MaxMemoryMB,omitempty"`
	MaxCPUPercent           int `json:"max_cpu_percent,omitempty" yaml:"max_cpu_percent" dynamodbav:"MaxCPUPercent,omitempty"`
	MaxExecutionTimeSeconds int `json:"max_execution_time_seconds,omitempty" yaml:"max_execution_time_seconds" dynamodbav:"MaxExecutionTimeSeconds,omitempty"`
}

// ServerConfig is the opaque transport configuration of a server.
// Local servers use "command", "args" and "env"; remote servers use "url"
// and optionally "tls_verify".
type ServerConfig map[string]interface{}

// Command returns the executable for a local server
func (c ServerConfig) Command() string {
	s, _ := c["command"].(string)
	return s
}

// Args returns the argument list for a local server
func (c ServerConfig) Args() []string {
	switch v := c["args"].(type) {
	case []string:
		return v
	case []interface{}:
		args := make([]string, 0, len(v))
		for _, a := range v {
			if s, ok := a.(string); ok {
				args = append(args, s)
			}
		}
		return args
	}
	return nil
}

// Env returns caller supplied environment overrides for a local server
func (c ServerConfig) Env() map[string]string {
	switch v := c["env"].(type) {
	case map[string]string:
		return v
	case map[string]interface{}:
		env := make(map[string]string, len(v))
		for k, val := range v {
			if s, ok := val.(string); ok {
				env[k] = s
			}
		}
		return env
	case map[interface{}]interface{}:
		env := make(map[string]string, len(v))
		for k, val := range v {
			ks, ok1 := k.(string)
			vs, ok2 := val.(string)
			if ok1 && ok2 {
				env[ks] = vs
			}
		}
		return env
	}
	return nil
}

// WorkingDir returns the optional working directory for a local server
func (c ServerConfig) WorkingDir() string {
	s, _ := c["working_dir"].(string)
	return s
}

// URL returns the base URL of a remote server
func (c ServerConfig) URL() string {
	s, _ := c["url"].(string)
	return s
}

// TLSVerify reports whether certificate verification is enabled for a remote
// server. Verification is off unless explicitly requested.
func (c ServerConfig) TLSVerify() bool {
	b, _ := c["tls_verify"].(bool)
	return b
}
