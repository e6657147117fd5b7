package database

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	appConfig "github.com/imyashkale/mcphost/internal/config"
	"github.com/imyashkale/mcphost/internal/logger"
)

const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// Config holds the storage configuration
type Config struct {
	Backend string

	// SQLite
	Path string

	// DynamoDB
	Region          string
	ServersTable    string
	ToolsTable      string
	ExecutionsTable string
}

// NewConfig creates a new database configuration from the application config
func NewConfig(appCfg *appConfig.Config) *Config {
	return &Config{
		Backend:         appCfg.StoreBackend,
		Path:            appCfg.DatabasePath,
		Region:          appCfg.AWSRegion,
		ServersTable:    appCfg.ServersTableName,
		ToolsTable:      appCfg.ToolsTableName,
		ExecutionsTable: appCfg.ExecutionsTableName,
	}
}

// NewDynamoClient creates a DynamoDB client and verifies the tables exist
func NewDynamoClient(ctx context.Context, cfg *Config) (*dynamodb.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg)

	for _, table := range []string{cfg.ServersTable, cfg.ToolsTable, cfg.ExecutionsTable} {
		if err := ensureTableExists(ctx, client, table); err != nil {
			logger.WithFields(map[string]interface{}{
				"table": table,
				"error": err.Error(),
			}).Warn("Could not verify table existence")
		}
	}

	return client, nil
}

// ensureTableExists checks if the DynamoDB table exists
func ensureTableExists(ctx context.Context, client DynamoAPI, tableName string) error {
	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(tableName),
	})
	if err != nil {
		return fmt.Errorf("table %s does not exist or cannot be accessed: %w", tableName, err)
	}

	logger.WithField("table", tableName).Debug("DynamoDB table verified")
	return nil
}
