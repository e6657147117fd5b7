package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

// ExecuteTool invokes a tool on a live server and audits the attempt.
// Tool failures, timeouts and cancellations come back as an unsuccessful
// result; only an unknown or non-live server is returned as an error.
func (m *MCPManager) ExecuteTool(ctx context.Context, id, toolName string, arguments, execContext map[string]interface{}) (*models.ExecutionResult, error) {
	server, err := m.getServer(ctx, id)
	if err != nil {
		return nil, err
	}

	ls, live := m.liveServer(id)
	if !live || !ls.conn.IsRunning() {
		return nil, notRunning(server.Name)
	}

	callCtx, cancel := context.WithTimeout(ctx, m.cfg.ToolCallTimeout)
	defer cancel()
	// Stopping the server cancels calls still in flight
	stop := context.AfterFunc(ls.ctx, cancel)
	defer stop()

	start := time.Now()
	output, callErr := ls.conn.CallTool(callCtx, toolName, arguments)
	duration := time.Since(start)

	status := models.ExecutionSuccess
	if callErr != nil {
		status = classifyFailure(ctx, callCtx, ls.ctx)
	}

	rec := &models.ExecutionRecord{
		ServerId:         id,
		ToolName:         toolName,
		Arguments:        arguments,
		Status:           status,
		DurationMs:       duration.Milliseconds(),
		ExecutionContext: execContext,
		Sandboxed:        server.ServerType == models.ServerTypeLocal && server.SandboxEnabled,
		ExecutedAt:       start.UTC(),
	}

	result := &models.ExecutionResult{
		Success:    callErr == nil,
		Status:     status,
		DurationMs: rec.DurationMs,
	}

	// The audit trail outlives the caller's context
	auditCtx := context.WithoutCancel(ctx)

	fields := map[string]interface{}{
		"server_id":   id,
		"server_name": server.Name,
		"tool":        toolName,
		"status":      string(status),
		"duration_ms": rec.DurationMs,
	}

	if callErr == nil {
		rec.Result = &output
		result.Result = output
		if err := m.store.IncrementUsage(auditCtx, id); err != nil {
			logger.WithFields(fields).Warnf("Failed to increment usage: %v", err)
		}
		logger.WithFields(fields).Info("Tool executed")
	} else {
		msg := failureMessage(status, callErr, m.cfg.ToolCallTimeout)
		rec.ErrorMessage = &msg
		result.Error = msg
		if err := m.store.IncrementErrors(auditCtx, id); err != nil {
			logger.WithFields(fields).Warnf("Failed to increment errors: %v", err)
		}
		fields["error"] = msg
		logger.WithFields(fields).Warn("Tool execution failed")
	}

	execID, err := m.store.LogExecution(auditCtx, rec)
	if err != nil {
		logger.WithFields(fields).Errorf("Failed to audit tool execution: %v", err)
	} else {
		result.ExecutionId = execID
	}

	m.metrics.ObserveExecution(server.Name, string(status), duration)
	return result, nil
}

// classifyFailure distinguishes a cancelled caller or stopped server from a
// call that ran out of time and from a plain tool error
func classifyFailure(callerCtx, callCtx, serverCtx context.Context) models.ExecutionStatus {
	switch {
	case callerCtx.Err() != nil || serverCtx.Err() != nil:
		return models.ExecutionCancelled
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return models.ExecutionTimeout
	default:
		return models.ExecutionError
	}
}

func failureMessage(status models.ExecutionStatus, err error, timeout time.Duration) string {
	switch status {
	case models.ExecutionTimeout:
		return fmt.Sprintf("tool call timed out after %s", timeout)
	case models.ExecutionCancelled:
		return fmt.Sprintf("tool call cancelled: %v", err)
	default:
		return err.Error()
	}
}
