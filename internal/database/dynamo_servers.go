package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

// dynamoServer is the item shape of the servers table
type dynamoServer struct {
	Id              string                 `dynamodbav:"Id"`
	Name            string                 `dynamodbav:"Name"`
	DisplayName     string                 `dynamodbav:"DisplayName"`
	Description     string                 `dynamodbav:"Description,omitempty"`
	ServerType      string                 `dynamodbav:"ServerType"`
	Config          map[string]interface{} `dynamodbav:"Config"`
	SandboxEnabled  bool                   `dynamodbav:"SandboxEnabled"`
	ResourceLimits  *models.ResourceLimits `dynamodbav:"ResourceLimits,omitempty"`
	Enabled         bool                   `dynamodbav:"Enabled"`
	Status          string                 `dynamodbav:"Status"`
	HealthStatus    string                 `dynamodbav:"HealthStatus"`
	TotalToolCalls  int64                  `dynamodbav:"TotalToolCalls"`
	TotalErrors     int64                  `dynamodbav:"TotalErrors"`
	ErrorMessage    string                 `dynamodbav:"ErrorMessage,omitempty"`
	ToolsGeneration string                 `dynamodbav:"ToolsGeneration,omitempty"`
	CreatedAt       int64                  `dynamodbav:"CreatedAt"`
	UpdatedAt       int64                  `dynamodbav:"UpdatedAt"`
	LastUsedAt      int64                  `dynamodbav:"LastUsedAt,omitempty"`
	LastHealthAt    int64                  `dynamodbav:"LastHealthCheck,omitempty"`
}

// CreateServer creates a new MCP server in DynamoDB. Name uniqueness is
// checked by scan; callers serialize registrations.
func (d *DynamoDB) CreateServer(ctx context.Context, server *models.MCPServer) error {
	if _, err := d.GetServerByName(ctx, server.Name); err == nil {
		return ErrAlreadyExists
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	av, err := attributevalue.MarshalMap(dynamoServer{
		Id:             server.Id,
		Name:           server.Name,
		DisplayName:    server.DisplayName,
		Description:    server.Description,
		ServerType:     string(server.ServerType),
		Config:         server.Config,
		SandboxEnabled: server.SandboxEnabled,
		ResourceLimits: server.ResourceLimits,
		Enabled:        server.Enabled,
		Status:         string(server.Status),
		HealthStatus:   string(server.HealthStatus),
		ErrorMessage:   server.ErrorMessage,
		CreatedAt:      server.CreatedAt.UnixMilli(),
		UpdatedAt:      server.UpdatedAt.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal MCP server: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.serversTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(Id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"server_id": server.Id,
		"name":      server.Name,
	}).Debug("MCP server created in DynamoDB")
	return nil
}

// GetServer retrieves an MCP server by ID from DynamoDB
func (d *DynamoDB) GetServer(ctx context.Context, id string) (*models.MCPServer, error) {
	item, err := d.getServerItem(ctx, id)
	if err != nil {
		return nil, err
	}
	return item.toDomain(), nil
}

func (d *DynamoDB) getServerItem(ctx context.Context, id string) (*dynamoServer, error) {
	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.serversTable),
		Key:            serverKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get MCP server: %w", err)
	}
	if result.Item == nil {
		return nil, ErrNotFound
	}

	var item dynamoServer
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal MCP server: %w", err)
	}
	return &item, nil
}

// GetServerByName retrieves an MCP server by its unique name
func (d *DynamoDB) GetServerByName(ctx context.Context, name string) (*models.MCPServer, error) {
	items, err := d.scanAll(ctx, &dynamodb.ScanInput{
		TableName:                aws.String(d.serversTable),
		FilterExpression:         aws.String("#name = :name"),
		ExpressionAttributeNames: map[string]string{"#name": "Name"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":name": &types.AttributeValueMemberS{Value: name},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan MCP servers by name: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrNotFound
	}

	servers, err := unmarshalServers(items[:1])
	if err != nil {
		return nil, err
	}
	return servers[0], nil
}

// ListServers scans the servers table with optional status and enabled filters
func (d *DynamoDB) ListServers(ctx context.Context, status models.ServerStatus, enabledOnly bool) ([]*models.MCPServer, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(d.serversTable),
		ConsistentRead: aws.Bool(true),
	}

	var filters []string
	values := map[string]types.AttributeValue{}
	if status != "" {
		filters = append(filters, "#status = :status")
		values[":status"] = &types.AttributeValueMemberS{Value: string(status)}
		input.ExpressionAttributeNames = map[string]string{"#status": "Status"}
	}
	if enabledOnly {
		filters = append(filters, "Enabled = :enabled")
		values[":enabled"] = &types.AttributeValueMemberBOOL{Value: true}
	}
	if len(filters) > 0 {
		expr := filters[0]
		for _, f := range filters[1:] {
			expr += " AND " + f
		}
		input.FilterExpression = aws.String(expr)
		input.ExpressionAttributeValues = values
	}

	items, err := d.scanAll(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to scan MCP servers: %w", err)
	}

	servers, err := unmarshalServers(items)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(servers, func(i, j int) bool {
		return servers[i].CreatedAt.Before(servers[j].CreatedAt)
	})
	return servers, nil
}

// UpdateServerStatus sets the lifecycle status and error message
func (d *DynamoDB) UpdateServerStatus(ctx context.Context, id string, status models.ServerStatus, errorMessage string) error {
	return d.updateServer(ctx, id,
		"SET #status = :status, ErrorMessage = :msg, UpdatedAt = :now",
		map[string]string{"#status": "Status"},
		map[string]types.AttributeValue{
			":status": &types.AttributeValueMemberS{Value: string(status)},
			":msg":    &types.AttributeValueMemberS{Value: errorMessage},
			":now":    nowMillis(),
		})
}

// UpdateHealthStatus records the outcome of a health check
func (d *DynamoDB) UpdateHealthStatus(ctx context.Context, id string, health models.HealthStatus) error {
	return d.updateServer(ctx, id,
		"SET HealthStatus = :health, LastHealthCheck = :now, UpdatedAt = :now",
		nil,
		map[string]types.AttributeValue{
			":health": &types.AttributeValueMemberS{Value: string(health)},
			":now":    nowMillis(),
		})
}

// IncrementUsage atomically bumps the tool call counter
func (d *DynamoDB) IncrementUsage(ctx context.Context, id string) error {
	return d.updateServer(ctx, id,
		"ADD TotalToolCalls :one SET LastUsedAt = :now",
		nil,
		map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
			":now": nowMillis(),
		})
}

// IncrementErrors atomically bumps the error counter
func (d *DynamoDB) IncrementErrors(ctx context.Context, id string) error {
	return d.updateServer(ctx, id,
		"ADD TotalErrors :one",
		nil,
		map[string]types.AttributeValue{
			":one": &types.AttributeValueMemberN{Value: "1"},
		})
}

// DeleteServer deletes an MCP server and its cached tools and executions
func (d *DynamoDB) DeleteServer(ctx context.Context, id string) error {
	_, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(d.serversTable),
		Key:                 serverKey(id),
		ConditionExpression: aws.String("attribute_exists(Id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete MCP server: %w", err)
	}

	if err := d.deletePartition(ctx, d.toolsTable, id); err != nil {
		return err
	}
	if err := d.deletePartition(ctx, d.executionsTable, id); err != nil {
		return err
	}

	logger.WithField("server_id", id).Info("MCP server deleted from DynamoDB")
	return nil
}

func (d *DynamoDB) updateServer(ctx context.Context, id, expr string, names map[string]string, values map[string]types.AttributeValue) error {
	_, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(d.serversTable),
		Key:                       serverKey(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(Id)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		logger.WithFields(map[string]interface{}{
			"server_id": id,
			"error":     err.Error(),
		}).Error("Failed to update MCP server in DynamoDB")
		return fmt.Errorf("failed to update MCP server: %w", err)
	}
	return nil
}

func unmarshalServers(items []map[string]types.AttributeValue) ([]*models.MCPServer, error) {
	servers := make([]*models.MCPServer, 0, len(items))
	for _, raw := range items {
		var item dynamoServer
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal MCP server: %w", err)
		}
		servers = append(servers, item.toDomain())
	}
	return servers, nil
}

// toDomain converts the item to the domain model with proper time conversion
func (item *dynamoServer) toDomain() *models.MCPServer {
	server := &models.MCPServer{
		Id:             item.Id,
		Name:           item.Name,
		DisplayName:    item.DisplayName,
		Description:    item.Description,
		ServerType:     models.ServerType(item.ServerType),
		Config:         models.ServerConfig(item.Config),
		SandboxEnabled: item.SandboxEnabled,
		ResourceLimits: item.ResourceLimits,
		Enabled:        item.Enabled,
		Status:         models.ServerStatus(item.Status),
		HealthStatus:   models.HealthStatus(item.HealthStatus),
		TotalToolCalls: item.TotalToolCalls,
		TotalErrors:    item.TotalErrors,
		ErrorMessage:   item.ErrorMessage,
		CreatedAt:      time.UnixMilli(item.CreatedAt).UTC(),
		UpdatedAt:      time.UnixMilli(item.UpdatedAt).UTC(),
		LastUsedAt:     millisPtr(item.LastUsedAt),
		LastHealthAt:   millisPtr(item.LastHealthAt),
	}
	if server.Config == nil {
		server.Config = models.ServerConfig{}
	}
	return server
}

func nowMillis() types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)}
}

func millisPtr(ms int64) *time.Time {
	if ms == 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}
