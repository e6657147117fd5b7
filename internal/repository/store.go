package repository

import (
	"context"

	"github.com/imyashkale/mcphost/internal/database"
	"github.com/imyashkale/mcphost/internal/models"
)

// Re-export errors from database package so callers need not import it
var (
	ErrNotFound      = database.ErrNotFound
	ErrAlreadyExists = database.ErrAlreadyExists
)

// Store defines the persistence operations used by the orchestrator.
// Single-record operations are atomic; ReplaceTools is atomic for readers.
type Store interface {
	CreateServer(ctx context.Context, server *models.MCPServer) error
	GetServer(ctx context.Context, id string) (*models.MCPServer, error)
	GetServerByName(ctx context.Context, name string) (*models.MCPServer, error)
	ListServers(ctx context.Context, status models.ServerStatus, enabledOnly bool) ([]*models.MCPServer, error)
	UpdateServerStatus(ctx context.Context, id string, status models.ServerStatus, errorMessage string) error
	UpdateHealthStatus(ctx context.Context, id string, health models.HealthStatus) error
	IncrementUsage(ctx context.Context, id string) error
	IncrementErrors(ctx context.Context, id string) error
	DeleteServer(ctx context.Context, id string) error

	ReplaceTools(ctx context.Context, serverId string, tools []models.ToolRecord) error
	GetTools(ctx context.Context, serverId string) ([]models.ToolRecord, error)

	LogExecution(ctx context.Context, rec *models.ExecutionRecord) (string, error)
	GetExecutionHistory(ctx context.Context, filter models.ExecutionFilter) ([]models.ExecutionRecord, error)
	GetServerStats(ctx context.Context, serverId string) (*models.ServerStats, error)

	Close() error
}

var (
	_ Store = (*database.SQLite)(nil)
	_ Store = (*database.DynamoDB)(nil)
)

// NewSQLiteStore returns a Store backed by SQLite
func NewSQLiteStore(db *database.SQLite) Store {
	return db
}

// NewDynamoStore returns a Store backed by DynamoDB
func NewDynamoStore(db *database.DynamoDB) Store {
	return db
}

// Open creates the store selected by cfg.Backend
func Open(ctx context.Context, cfg *database.Config) (Store, error) {
	if cfg.Backend == database.BackendDynamoDB {
		client, err := database.NewDynamoClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewDynamoStore(database.NewDynamoDB(client, cfg)), nil
	}

	db, err := database.OpenSQLite(cfg.Path)
	if err != nil {
		return nil, err
	}
	return NewSQLiteStore(db), nil
}
