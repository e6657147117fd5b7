// Package connection provides a uniform lifecycle and tool contract over
// local (stdio subprocess) and remote (HTTP) MCP servers.
package connection

import (
	"context"
	"errors"
	"fmt"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

// ErrNotStarted is returned by tool operations before Start succeeded
var ErrNotStarted = errors.New("connection not started")

// Connection is a started or startable MCP server
type Connection interface {
	// Start establishes the connection. On failure no resources are left behind.
	Start(ctx context.Context) error
	// Stop tears the connection down. It is idempotent and never fails.
	Stop()
	ListTools(ctx context.Context) ([]models.ToolSchema, error)
	// CallTool invokes a tool and normalizes its result to a string
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (string, error)
	IsRunning() bool
	// SandboxStats reports the backing process, nil for remote servers
	SandboxStats() *models.SandboxStats
}

// StartupError reports a failed spawn or handshake
type StartupError struct {
	Server string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("failed to start MCP server %s: %v", e.Server, e.Err)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// ExecutionError reports a tool that failed while running
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// With starts conn, runs fn and stops conn on every exit path
func With(ctx context.Context, conn Connection, fn func(Connection) error) (err error) {
	if err := conn.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			conn.Stop()
			panic(r)
		}
		conn.Stop()
	}()

	return fn(conn)
}

func logStopError(serverID, what string, err error) {
	logger.WithFields(map[string]interface{}{
		"server_id": serverID,
		"error":     err.Error(),
	}).Warnf("Error closing %s", what)
}
