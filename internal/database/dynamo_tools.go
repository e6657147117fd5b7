package database

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imyashkale/mcphost/internal/logger"
	"github.com/imyashkale/mcphost/internal/models"
)

type dynamoTool struct {
	ServerId    string                 `dynamodbav:"ServerId"`
	SortKey     string                 `dynamodbav:"SortKey"`
	Position    int64                  `dynamodbav:"Position"`
	ToolName    string                 `dynamodbav:"ToolName"`
	Description string                 `dynamodbav:"Description,omitempty"`
	Parameters  map[string]interface{} `dynamodbav:"Parameters"`
	Schema      map[string]interface{} `dynamodbav:"Schema"`
	CreatedAt   int64                  `dynamodbav:"CreatedAt"`
}

// ReplaceTools writes the new tool set under a fresh generation and then
// flips the server's ToolsGeneration pointer. Readers only follow the
// pointer, so they observe either the old or the new complete set.
func (d *DynamoDB) ReplaceTools(ctx context.Context, serverId string, tools []models.ToolRecord) error {
	generation := uuid.New().String()

	puts := make([]types.WriteRequest, 0, len(tools))
	for i, tool := range tools {
		av, err := attributevalue.MarshalMap(dynamoTool{
			ServerId:    serverId,
			SortKey:     fmt.Sprintf("%s#%06d", generation, i),
			Position:    int64(i),
			ToolName:    tool.ToolName,
			Description: tool.Description,
			Parameters:  tool.Parameters,
			Schema:      tool.Schema,
			CreatedAt:   tool.CreatedAt.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("failed to marshal tool %s: %w", tool.ToolName, err)
		}
		puts = append(puts, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
	}
	if err := d.batchWrite(ctx, d.toolsTable, puts); err != nil {
		return fmt.Errorf("failed to write tools of server %s: %w", serverId, err)
	}

	out, err := d.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(d.serversTable),
		Key:                 serverKey(serverId),
		UpdateExpression:    aws.String("SET ToolsGeneration = :gen"),
		ConditionExpression: aws.String("attribute_exists(Id)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":gen": &types.AttributeValueMemberS{Value: generation},
		},
		ReturnValues: types.ReturnValueUpdatedOld,
	})
	if err != nil {
		// The new generation is unreachable; clean it up
		if cleanupErr := d.deleteGeneration(ctx, serverId, generation); cleanupErr != nil {
			logger.WithField("server_id", serverId).Warn("Failed to clean up orphaned tool generation")
		}
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to publish tool generation: %w", err)
	}

	// Only the generation this write displaced is removed; a concurrent
	// refresh's generation stays until that refresh is itself displaced
	previous, ok := out.Attributes["ToolsGeneration"].(*types.AttributeValueMemberS)
	if !ok || previous.Value == "" || previous.Value == generation {
		return nil
	}
	if err := d.deleteGeneration(ctx, serverId, previous.Value); err != nil {
		// Stale generations are invisible to readers
		logger.WithFields(map[string]interface{}{
			"server_id":  serverId,
			"generation": previous.Value,
			"error":      err.Error(),
		}).Warn("Failed to delete previous tool generation")
	}
	return nil
}

// deleteGeneration removes the tool items of serverId written under generation
func (d *DynamoDB) deleteGeneration(ctx context.Context, serverId, generation string) error {
	items, err := d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.toolsTable),
		KeyConditionExpression: aws.String("ServerId = :sid AND begins_with(SortKey, :gen)"),
		ProjectionExpression:   aws.String("ServerId, SortKey"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: serverId},
			":gen": &types.AttributeValueMemberS{Value: generation + "#"},
		},
	})
	if err != nil {
		return err
	}
	return d.batchWrite(ctx, d.toolsTable, deleteRequests(items))
}

// GetTools returns the tools of the server's current generation
func (d *DynamoDB) GetTools(ctx context.Context, serverId string) ([]models.ToolRecord, error) {
	server, err := d.getServerItem(ctx, serverId)
	if errors.Is(err, ErrNotFound) {
		return []models.ToolRecord{}, nil
	}
	if err != nil {
		return nil, err
	}
	if server.ToolsGeneration == "" {
		return []models.ToolRecord{}, nil
	}

	items, err := d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.toolsTable),
		KeyConditionExpression: aws.String("ServerId = :sid AND begins_with(SortKey, :gen)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: serverId},
			":gen": &types.AttributeValueMemberS{Value: server.ToolsGeneration + "#"},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query tools: %w", err)
	}

	tools := make([]models.ToolRecord, 0, len(items))
	for _, raw := range items {
		var item dynamoTool
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool: %w", err)
		}
		tools = append(tools, models.ToolRecord{
			Id:          item.Position,
			ServerId:    item.ServerId,
			ToolName:    item.ToolName,
			Description: item.Description,
			Parameters:  item.Parameters,
			Schema:      item.Schema,
			CreatedAt:   time.UnixMilli(item.CreatedAt).UTC(),
		})
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Id < tools[j].Id })
	return tools, nil
}
