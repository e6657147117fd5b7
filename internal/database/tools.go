package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/imyashkale/mcphost/internal/models"
)

// ReplaceTools swaps the cached tool set of a server in one transaction so
// readers see either the previous or the new snapshot
func (s *SQLite) ReplaceTools(ctx context.Context, serverId string, tools []models.ToolRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tool replacement: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM mcp_servers WHERE id = ?`, serverId).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check server %s: %w", serverId, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM mcp_tools WHERE server_id = ?`, serverId); err != nil {
		return fmt.Errorf("failed to clear tools of server %s: %w", serverId, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO mcp_tools (server_id, tool_name, description, parameters, schema, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare tool insert: %w", err)
	}
	defer stmt.Close()

	for _, tool := range tools {
		params, err := marshalJSON(tool.Parameters)
		if err != nil {
			return fmt.Errorf("failed to marshal parameters of tool %s: %w", tool.ToolName, err)
		}
		schema, err := marshalJSON(tool.Schema)
		if err != nil {
			return fmt.Errorf("failed to marshal schema of tool %s: %w", tool.ToolName, err)
		}
		if _, err := stmt.ExecContext(ctx, serverId, tool.ToolName, nullString(tool.Description),
			params, schema, formatTime(tool.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert tool %s: %w", tool.ToolName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tool replacement: %w", err)
	}
	return nil
}

// GetTools returns the cached tools of a server in discovery order
func (s *SQLite) GetTools(ctx context.Context, serverId string) ([]models.ToolRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, server_id, tool_name, description, parameters, schema, created_at
		FROM mcp_tools WHERE server_id = ? ORDER BY id
	`, serverId)
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}
	defer rows.Close()

	tools := make([]models.ToolRecord, 0)
	for rows.Next() {
		var (
			tool           models.ToolRecord
			description    sql.NullString
			params, schema sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&tool.Id, &tool.ServerId, &tool.ToolName, &description, &params, &schema, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		tool.Description = description.String
		tool.Parameters = unmarshalMap(params)
		tool.Schema = unmarshalMap(schema)
		tool.CreatedAt = parseTime(createdAt)
		tools = append(tools, tool)
	}
	return tools, rows.Err()
}
