package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

const serverColumns = `id, name, display_name, description, server_type, config,
	sandbox_enabled, resource_limits, enabled, status, health_status,
	total_tool_calls, total_errors, error_message, created_at, updated_at,
	last_used_at, last_health_check`

// CreateServer inserts a new server record. Returns ErrAlreadyExists if the
// id or name is taken.
func (s *SQLite) CreateServer(ctx context.Context, server *models.MCPServer) error {
	config, err := marshalJSON(server.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal server config: %w", err)
	}

	var limits sql.NullString
	if server.ResourceLimits != nil {
		data, err := json.Marshal(server.ResourceLimits)
		if err != nil {
			return fmt.Errorf("failed to marshal resource limits: %w", err)
		}
		limits = sql.NullString{String: string(data), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_servers (`+serverColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		server.Id, server.Name, server.DisplayName, nullString(server.Description),
		string(server.ServerType), config, boolToInt(server.SandboxEnabled), limits,
		boolToInt(server.Enabled), string(server.Status), string(server.HealthStatus),
		server.TotalToolCalls, server.TotalErrors, nullString(server.ErrorMessage),
		formatTime(server.CreatedAt), formatTime(server.UpdatedAt),
		nil, nil,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_id": server.Id,
		"name":      server.Name,
	}).Debug("MCP server record created")
	return nil
}

// GetServer retrieves a server by ID
func (s *SQLite) GetServer(ctx context.Context, id string) (*models.MCPServer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers WHERE id = ?`, id)
	return scanServer(row)
}

// GetServerByName retrieves a server by its unique name
func (s *SQLite) GetServerByName(ctx context.Context, name string) (*models.MCPServer, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM mcp_servers WHERE name = ?`, name)
	return scanServer(row)
}

// ListServers returns servers ordered by creation time, optionally filtered
// by status and enabled flag
func (s *SQLite) ListServers(ctx context.Context, status models.ServerStatus, enabledOnly bool) ([]*models.MCPServer, error) {
	var (
		where []string
		args  []interface{}
	)
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}
	if enabledOnly {
		where = append(where, "enabled = 1")
	}

	query := `SELECT ` + serverColumns + ` FROM mcp_servers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, name"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list MCP servers: %w", err)
	}
	defer rows.Close()

	servers := make([]*models.MCPServer, 0)
	for rows.Next() {
		server, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

// UpdateServerStatus sets the lifecycle status and error message
func (s *SQLite) UpdateServerStatus(ctx context.Context, id string, status models.ServerStatus, errorMessage string) error {
	return s.updateServer(ctx, id,
		`UPDATE mcp_servers SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), nullString(errorMessage), formatTime(time.Now()), id)
}

// UpdateHealthStatus records the outcome of a health check
func (s *SQLite) UpdateHealthStatus(ctx context.Context, id string, health models.HealthStatus) error {
	now := formatTime(time.Now())
	return s.updateServer(ctx, id,
		`UPDATE mcp_servers SET health_status = ?, last_health_check = ?, updated_at = ? WHERE id = ?`,
		string(health), now, now, id)
}

// IncrementUsage bumps the tool call counter and last used timestamp
func (s *SQLite) IncrementUsage(ctx context.Context, id string) error {
	return s.updateServer(ctx, id,
		`UPDATE mcp_servers SET total_tool_calls = total_tool_calls + 1, last_used_at = ? WHERE id = ?`,
		formatTime(time.Now()), id)
}

// IncrementErrors bumps the error counter
func (s *SQLite) IncrementErrors(ctx context.Context, id string) error {
	return s.updateServer(ctx, id,
		`UPDATE mcp_servers SET total_errors = total_errors + 1 WHERE id = ?`, id)
}

// DeleteServer removes a server. Cached tools and execution history are
// removed by cascade.
func (s *SQLite) DeleteServer(ctx context.Context, id string) error {
	return s.updateServer(ctx, id, `DELETE FROM mcp_servers WHERE id = ?`, id)
}

func (s *SQLite) updateServer(ctx context.Context, id, query string, args ...interface{}) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update MCP server %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update MCP server %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanServer(row rowScanner) (*models.MCPServer, error) {
	var (
		server                      models.MCPServer
		serverType, status, health  string
		config                      string
		description, limits, errMsg sql.NullString
		sandbox, enabled            int
		createdAt, updatedAt        string
		lastUsedAt, lastHealthCheck sql.NullString
	)

	err := row.Scan(
		&server.Id, &server.Name, &server.DisplayName, &description, &serverType, &config,
		&sandbox, &limits, &enabled, &status, &health,
		&server.TotalToolCalls, &server.TotalErrors, &errMsg, &createdAt, &updatedAt,
		&lastUsedAt, &lastHealthCheck,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan MCP server: %w", err)
	}

	server.Description = description.String
	server.ServerType = models.ServerType(serverType)
	server.SandboxEnabled = sandbox != 0
	server.Enabled = enabled != 0
	server.Status = models.ServerStatus(status)
	server.HealthStatus = models.HealthStatus(health)
	server.ErrorMessage = errMsg.String
	server.CreatedAt = parseTime(createdAt)
	server.UpdatedAt = parseTime(updatedAt)
	server.LastUsedAt = parseNullTime(lastUsedAt)
	server.LastHealthAt = parseNullTime(lastHealthCheck)

	server.Config = models.ServerConfig{}
	if err := json.Unmarshal([]byte(config), &server.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config of server %s: %w", server.Id, err)
	}
	if limits.Valid && limits.String != "" {
		server.ResourceLimits = &models.ResourceLimits{}
		if err := json.Unmarshal([]byte(limits.String), server.ResourceLimits); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resource limits of server %s: %w", server.Id, err)
		}
	}

	return &server, nil
}
