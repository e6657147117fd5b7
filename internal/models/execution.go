package models

import "time"

// ExecutionStatus classifies the outcome of a tool invocation
type ExecutionStatus string

const (
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionError     ExecutionStatus = "error"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// ExecutionRecord is an immutable audit entry for one tool invocation attempt
type ExecutionRecord struct {
	Id               string                 `json:"id"`
	ServerId         string                 `json:"server_id"`
	ToolName         string                 `json:"tool_name"`
	Arguments        map[string]interface{} `json:"arguments"`
	Result           *string                `json:"result"`
	Status           ExecutionStatus        `json:"status"`
	DurationMs       int64                  `json:"duration_ms"`
	ErrorMessage     *string                `json:"error_message"`
	ExecutionContext map[string]interface{} `json:"execution_context,omitempty"`
	Sandboxed        bool                   `json:"sandboxed"`
	ExecutedAt       time.Time              `json:"executed_at"`
}

// ExecutionFilter narrows an execution history query. Limit <= 0 means the
// store default.
type ExecutionFilter struct {
	ServerId string
	Status   ExecutionStatus
	Limit    int
}

// ExecutionResult is the tagged outcome returned to callers of a tool
// execution. Exactly one of Result or Error is set.
type ExecutionResult struct {
	Success     bool            `json:"success"`
	Status      ExecutionStatus `json:"status"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	ExecutionId string          `json:"execution_id,omitempty"`
}

// ServerStats aggregates the execution log of a single server
type ServerStats struct {
	ServerId        string     `json:"server_id"`
	TotalExecutions int64      `json:"total_executions"`
	SuccessCount    int64      `json:"success_count"`
	ErrorCount      int64      `json:"error_count"`
	TimeoutCount    int64      `json:"timeout_count"`
	CancelledCount  int64      `json:"cancelled_count"`
	AvgDurationMs   float64    `json:"avg_duration_ms"`
	MaxDurationMs   int64      `json:"max_duration_ms"`
	LastExecutedAt  *time.Time `json:"last_executed_at"`
	ToolCount       int        `json:"tool_count"`
	TotalToolCalls  int64      `json:"total_tool_calls"`
	TotalErrors     int64      `json:"total_errors"`
}

// HealthReport is the outcome of a single health check
type HealthReport struct {
	Healthy      bool          `json:"healthy"`
	Status       string        `json:"status"`
	ToolCount    *int          `json:"tool_count,omitempty"`
	SandboxStats *SandboxStats `json:"sandbox_stats,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// SandboxStats is a best-effort snapshot of a sandboxed process. Usage is nil
// when host introspection is unavailable.
type SandboxStats struct {
	Status       string        `json:"status"`
	PID          int           `json:"pid,omitempty"`
	Usage        *ProcessUsage `json:"usage,omitempty"`
	RecentStderr []string      `json:"recent_stderr,omitempty"`
}

// ProcessUsage holds the host-introspected part of SandboxStats
type ProcessUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryMB    float64 `json:"memory_mb"`
	ThreadCount int     `json:"thread_count"`
}

// ServerInfo merges a durable record with live runtime state
type ServerInfo struct {
	Server       *MCPServer
	IsRunning    bool
	SandboxStats *SandboxStats
}
