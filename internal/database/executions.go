package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/imyashkale/mcphost/internal/models"
)

const (
	// DefaultHistoryLimit applies when a history query has no limit
	DefaultHistoryLimit = 100
	// MaxHistoryLimit caps a single history page
	MaxHistoryLimit = 1000
)

// LogExecution appends an audit record and returns its id
func (s *SQLite) LogExecution(ctx context.Context, rec *models.ExecutionRecord) (string, error) {
	if rec.Id == "" {
		rec.Id = uuid.New().String()
	}

	args, err := marshalJSON(rec.Arguments)
	if err != nil {
		return "", fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var execCtx sql.NullString
	if rec.ExecutionContext != nil {
		data, err := marshalJSON(rec.ExecutionContext)
		if err != nil {
			return "", fmt.Errorf("failed to marshal execution context: %w", err)
		}
		execCtx = sql.NullString{String: data, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mcp_executions (id, server_id, tool_name, arguments, result, status,
			duration_ms, error_message, execution_context, sandboxed, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.Id, rec.ServerId, rec.ToolName, args, nullStringPtr(rec.Result), string(rec.Status),
		rec.DurationMs, nullStringPtr(rec.ErrorMessage), execCtx, boolToInt(rec.Sandboxed),
		formatTime(rec.ExecutedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to log execution: %w", err)
	}
	return rec.Id, nil
}

// GetExecutionHistory returns audit records newest first
func (s *SQLite) GetExecutionHistory(ctx context.Context, filter models.ExecutionFilter) ([]models.ExecutionRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.ServerId != "" {
		where = append(where, "server_id = ?")
		args = append(args, filter.ServerId)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT id, server_id, tool_name, arguments, result, status, duration_ms,
		error_message, execution_context, sandboxed, executed_at FROM mcp_executions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY executed_at DESC, rowid DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution history: %w", err)
	}
	defer rows.Close()

	records := make([]models.ExecutionRecord, 0)
	for rows.Next() {
		var (
			rec                models.ExecutionRecord
			arguments, execCtx sql.NullString
			result, errMsg     sql.NullString
			status, executedAt string
			sandboxed          int
		)
		if err := rows.Scan(&rec.Id, &rec.ServerId, &rec.ToolName, &arguments, &result, &status,
			&rec.DurationMs, &errMsg, &execCtx, &sandboxed, &executedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		rec.Arguments = unmarshalMap(arguments)
		rec.ExecutionContext = unmarshalMap(execCtx)
		if result.Valid {
			rec.Result = &result.String
		}
		if errMsg.Valid {
			rec.ErrorMessage = &errMsg.String
		}
		rec.Status = models.ExecutionStatus(status)
		rec.Sandboxed = sandboxed != 0
		rec.ExecutedAt = parseTime(executedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// GetServerStats aggregates the execution log and counters of a server
func (s *SQLite) GetServerStats(ctx context.Context, serverId string) (*models.ServerStats, error) {
	stats := &models.ServerStats{ServerId: serverId}

	err := s.db.QueryRowContext(ctx,
		`SELECT total_tool_calls, total_errors FROM mcp_servers WHERE id = ?`, serverId,
	).Scan(&stats.TotalToolCalls, &stats.TotalErrors)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read server counters: %w", err)
	}

	var (
		avg     sql.NullFloat64
		maxDur  sql.NullInt64
		lastRun sql.NullString
	)
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'timeout' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0),
			AVG(duration_ms),
			MAX(duration_ms),
			MAX(executed_at)
		FROM mcp_executions WHERE server_id = ?
	`, serverId).Scan(&stats.TotalExecutions, &stats.SuccessCount, &stats.ErrorCount,
		&stats.TimeoutCount, &stats.CancelledCount, &avg, &maxDur, &lastRun)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	stats.AvgDurationMs = avg.Float64
	stats.MaxDurationMs = maxDur.Int64
	stats.LastExecutedAt = parseNullTime(lastRun)

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mcp_tools WHERE server_id = ?`, serverId,
	).Scan(&stats.ToolCount); err != nil {
		return nil, fmt.Errorf("failed to count tools: %w", err)
	}

	return stats, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}
