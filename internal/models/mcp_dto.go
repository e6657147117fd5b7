package models

import "time"

// RegisterServerRequest represents the request body for registering a new MCP server
type RegisterServerRequest struct {
	Name           string          `json:"name" yaml:"name" binding:"required"`
	DisplayName    string          `json:"display_name" yaml:"display_name"`
	Description    string          `json:"description" yaml:"description"`
	ServerType     ServerType      `json:"server_type" yaml:"server_type" binding:"required"`
	Config         ServerConfig    `json:"config" yaml:"config"`
	SandboxEnabled *bool           `json:"sandbox_enabled" yaml:"sandbox_enabled"`
	ResourceLimits *ResourceLimits `json:"resource_limits" yaml:"resource_limits"`
	Enabled        *bool           `json:"enabled" yaml:"enabled"`
	AutoStart      *bool           `json:"auto_start" yaml:"auto_start"`
}

// ShouldAutoStart reports whether the server should be started right after
// registration. Defaults to true.
func (req *RegisterServerRequest) ShouldAutoStart() bool {
	return req.AutoStart == nil || *req.AutoStart
}

// ToDomain converts RegisterServerRequest DTO to domain MCPServer model
func (req *RegisterServerRequest) ToDomain() *MCPServer {
	now := time.Now().UTC()

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Name
	}

	// Sandboxing defaults on and only applies to local servers
	sandbox := req.SandboxEnabled == nil || *req.SandboxEnabled
	if req.ServerType == ServerTypeRemote {
		sandbox = false
	}

	cfg := req.Config
	if cfg == nil {
		cfg = ServerConfig{}
	}

	return &MCPServer{
		Name:           req.Name,
		DisplayName:    displayName,
		Description:    req.Description,
		ServerType:     req.ServerType,
		Config:         cfg,
		SandboxEnabled: sandbox,
		ResourceLimits: req.ResourceLimits,
		Enabled:        req.Enabled == nil || *req.Enabled,
		Status:         StatusInactive,
		HealthStatus:   HealthUnknown,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// MCPServerResponse represents the response structure for a single MCP server
type MCPServerResponse struct {
	Id             string          `json:"id"`
	Name           string          `json:"name"`
	DisplayName    string          `json:"display_name"`
	Description    string          `json:"description"`
	ServerType     ServerType      `json:"server_type"`
	Config         ServerConfig    `json:"config"`
	SandboxEnabled bool            `json:"sandbox_enabled"`
	ResourceLimits *ResourceLimits `json:"resource_limits,omitempty"`
	Enabled        bool            `json:"enabled"`
	Status         ServerStatus    `json:"status"`
	HealthStatus   HealthStatus    `json:"health_status"`
	TotalToolCalls int64           `json:"total_tool_calls"`
	TotalErrors    int64           `json:"total_errors"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	IsRunning      bool            `json:"is_running"`
	SandboxStats   *SandboxStats   `json:"sandbox_stats,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	LastUsedAt     *time.Time      `json:"last_used_at"`
	LastHealthAt   *time.Time      `json:"last_health_check"`
}

// MCPServerListResponse represents the response structure for listing MCP servers
type MCPServerListResponse struct {
	Servers []MCPServerResponse `json:"servers"`
	Total   int                 `json:"total"`
}

// ToResponse converts a domain MCPServer to an MCPServerResponse DTO
func (m *MCPServer) ToResponse() MCPServerResponse {
	return MCPServerResponse{
		Id:             m.Id,
		Name:           m.Name,
		DisplayName:    m.DisplayName,
		Description:    m.Description,
		ServerType:     m.ServerType,
		Config:         m.Config,
		SandboxEnabled: m.SandboxEnabled,
		ResourceLimits: m.ResourceLimits,
		Enabled:        m.Enabled,
		Status:         m.Status,
		HealthStatus:   m.HealthStatus,
		TotalToolCalls: m.TotalToolCalls,
		TotalErrors:    m.TotalErrors,
		ErrorMessage:   m.ErrorMessage,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		LastUsedAt:     m.LastUsedAt,
		LastHealthAt:   m.LastHealthAt,
	}
}

// ToResponse converts ServerInfo to a response carrying live state
func (i *ServerInfo) ToResponse() MCPServerResponse {
	resp := i.Server.ToResponse()
	resp.IsRunning = i.IsRunning
	resp.SandboxStats = i.SandboxStats
	return resp
}

// ExecuteToolRequest represents the request body for executing a tool
type ExecuteToolRequest struct {
	Arguments map[string]interface{} `json:"arguments"`
	Context   map[string]interface{} `json:"context"`
}

// ToolListResponse represents the response structure for listing tools
type ToolListResponse struct {
	ServerId string       `json:"server_id"`
	Tools    []ToolSchema `json:"tools"`
	Total    int          `json:"total"`
}

// ExecutionListResponse represents the response structure for execution history
type ExecutionListResponse struct {
	Executions []ExecutionRecord `json:"executions"`
	Total      int               `json:"total"`
}
