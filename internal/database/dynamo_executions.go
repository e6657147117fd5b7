package database

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/imyashkale/mcphost/internal/models"
)

type dynamoExecution struct {
	ServerId         string                 `dynamodbav:"ServerId"`
	SortKey          string                 `dynamodbav:"SortKey"`
	Id               string                 `dynamodbav:"Id"`
	ToolName         string                 `dynamodbav:"ToolName"`
	Arguments        map[string]interface{} `dynamodbav:"Arguments"`
	Result           *string                `dynamodbav:"Result,omitempty"`
	Status           string                 `dynamodbav:"Status"`
	DurationMs       int64                  `dynamodbav:"DurationMs"`
	ErrorMessage     *string                `dynamodbav:"ErrorMessage,omitempty"`
	ExecutionContext map[string]interface{} `dynamodbav:"ExecutionContext,omitempty"`
	Sandboxed        bool                   `dynamodbav:"Sandboxed"`
	ExecutedAt       string                 `dynamodbav:"ExecutedAt"`
}

// LogExecution appends an audit record. The owning server must exist.
func (d *DynamoDB) LogExecution(ctx context.Context, rec *models.ExecutionRecord) (string, error) {
	if _, err := d.getServerItem(ctx, rec.ServerId); err != nil {
		return "", err
	}
	if rec.Id == "" {
		rec.Id = uuid.New().String()
	}

	executedAt := formatTime(rec.ExecutedAt)
	av, err := attributevalue.MarshalMap(dynamoExecution{
		ServerId:         rec.ServerId,
		SortKey:          executedAt + "#" + rec.Id,
		Id:               rec.Id,
		ToolName:         rec.ToolName,
		Arguments:        rec.Arguments,
		Result:           rec.Result,
		Status:           string(rec.Status),
		DurationMs:       rec.DurationMs,
		ErrorMessage:     rec.ErrorMessage,
		ExecutionContext: rec.ExecutionContext,
		Sandboxed:        rec.Sandboxed,
		ExecutedAt:       executedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal execution: %w", err)
	}

	_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.executionsTable),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(SortKey)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return "", ErrAlreadyExists
		}
		return "", fmt.Errorf("failed to log execution: %w", err)
	}
	return rec.Id, nil
}

// GetExecutionHistory returns audit records newest first
func (d *DynamoDB) GetExecutionHistory(ctx context.Context, filter models.ExecutionFilter) ([]models.ExecutionRecord, error) {
	limit := clampLimit(filter.Limit)

	var (
		items []map[string]types.AttributeValue
		err   error
	)
	values := map[string]types.AttributeValue{}
	var statusFilter *string
	var names map[string]string
	if filter.Status != "" {
		statusFilter = aws.String("#status = :status")
		names = map[string]string{"#status": "Status"}
		values[":status"] = &types.AttributeValueMemberS{Value: string(filter.Status)}
	}

	if filter.ServerId != "" {
		values[":sid"] = &types.AttributeValueMemberS{Value: filter.ServerId}
		items, err = d.queryAll(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(d.executionsTable),
			KeyConditionExpression:    aws.String("ServerId = :sid"),
			FilterExpression:          statusFilter,
			ExpressionAttributeNames:  names,
			ExpressionAttributeValues: values,
			ScanIndexForward:          aws.Bool(false),
		})
	} else {
		input := &dynamodb.ScanInput{
			TableName:                aws.String(d.executionsTable),
			FilterExpression:         statusFilter,
			ExpressionAttributeNames: names,
		}
		if len(values) > 0 {
			input.ExpressionAttributeValues = values
		}
		items, err = d.scanAll(ctx, input)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read execution history: %w", err)
	}

	records, err := unmarshalExecutions(items)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ExecutedAt.After(records[j].ExecutedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// GetServerStats aggregates a server's executions client side
func (d *DynamoDB) GetServerStats(ctx context.Context, serverId string) (*models.ServerStats, error) {
	server, err := d.getServerItem(ctx, serverId)
	if err != nil {
		return nil, err
	}

	items, err := d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.executionsTable),
		KeyConditionExpression: aws.String("ServerId = :sid"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: serverId},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	records, err := unmarshalExecutions(items)
	if err != nil {
		return nil, err
	}

	tools, err := d.GetTools(ctx, serverId)
	if err != nil {
		return nil, err
	}

	stats := aggregateExecutions(serverId, records)
	stats.ToolCount = len(tools)
	stats.TotalToolCalls = server.TotalToolCalls
	stats.TotalErrors = server.TotalErrors
	return stats, nil
}

func aggregateExecutions(serverId string, records []models.ExecutionRecord) *models.ServerStats {
	stats := &models.ServerStats{ServerId: serverId}
	var total int64
	for i := range records {
		rec := &records[i]
		stats.TotalExecutions++
		total += rec.DurationMs
		if rec.DurationMs > stats.MaxDurationMs {
			stats.MaxDurationMs = rec.DurationMs
		}
		if stats.LastExecutedAt == nil || rec.ExecutedAt.After(*stats.LastExecutedAt) {
			t := rec.ExecutedAt
			stats.LastExecutedAt = &t
		}
		switch rec.Status {
		case models.ExecutionSuccess:
			stats.SuccessCount++
		case models.ExecutionError:
			stats.ErrorCount++
		case models.ExecutionTimeout:
			stats.TimeoutCount++
		case models.ExecutionCancelled:
			stats.CancelledCount++
		}
	}
	if stats.TotalExecutions > 0 {
		stats.AvgDurationMs = float64(total) / float64(stats.TotalExecutions)
	}
	return stats
}

func unmarshalExecutions(items []map[string]types.AttributeValue) ([]models.ExecutionRecord, error) {
	records := make([]models.ExecutionRecord, 0, len(items))
	for _, raw := range items {
		var item dynamoExecution
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution: %w", err)
		}
		records = append(records, models.ExecutionRecord{
			Id:               item.Id,
			ServerId:         item.ServerId,
			ToolName:         item.ToolName,
			Arguments:        item.Arguments,
			Result:           item.Result,
			Status:           models.ExecutionStatus(item.Status),
			DurationMs:       item.DurationMs,
			ErrorMessage:     item.ErrorMessage,
			ExecutionContext: item.ExecutionContext,
			Sandboxed:        item.Sandboxed,
			ExecutedAt:       parseTime(item.ExecutedAt),
		})
	}
	return records, nil
}
