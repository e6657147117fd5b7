package database

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// batchWriteLimit is the maximum number of requests in one BatchWriteItem call
const batchWriteLimit = 25

// DynamoAPI is the subset of the DynamoDB client used by the store
type DynamoAPI interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoDB stores servers, cached tools and executions in three tables.
//
//	servers:    Id (hash)
//	tools:      ServerId (hash), SortKey (range) "<generation>#<position>"
//	executions: ServerId (hash), SortKey (range) "<executed_at>#<id>"
type DynamoDB struct {
	client          DynamoAPI
	serversTable    string
	toolsTable      string
	executionsTable string
}

// NewDynamoDB creates a DynamoDB backed store
func NewDynamoDB(client DynamoAPI, cfg *Config) *DynamoDB {
	return &DynamoDB{
		client:          client,
		serversTable:    cfg.ServersTable,
		toolsTable:      cfg.ToolsTable,
		executionsTable: cfg.ExecutionsTable,
	}
}

// Close is a no-op; the SDK client holds no resources that need releasing
func (d *DynamoDB) Close() error {
	return nil
}

// queryAll follows LastEvaluatedKey until the query is exhausted
func (d *DynamoDB) queryAll(ctx context.Context, input *dynamodb.QueryInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := d.client.Query(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// scanAll follows LastEvaluatedKey until the scan is exhausted
func (d *DynamoDB) scanAll(ctx context.Context, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for {
		out, err := d.client.Scan(ctx, input)
		if err != nil {
			return nil, err
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			return items, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// batchWrite sends requests in chunks, retrying unprocessed items a few times
func (d *DynamoDB) batchWrite(ctx context.Context, table string, requests []types.WriteRequest) error {
	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}

		pending := map[string][]types.WriteRequest{table: requests[start:end]}
		for attempt := 0; len(pending[table]) > 0; attempt++ {
			if attempt == 5 {
				return fmt.Errorf("batch write to %s left %d unprocessed items", table, len(pending[table]))
			}
			if attempt > 0 {
				time.Sleep(time.Duration(attempt*50) * time.Millisecond)
			}
			out, err := d.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch write to %s: %w", table, err)
			}
			pending = out.UnprocessedItems
			if pending == nil {
				break
			}
		}
	}
	return nil
}

// deletePartition removes every item under the given hash key
func (d *DynamoDB) deletePartition(ctx context.Context, table, serverId string) error {
	items, err := d.queryAll(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(table),
		KeyConditionExpression: aws.String("ServerId = :sid"),
		ProjectionExpression:   aws.String("ServerId, SortKey"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid": &types.AttributeValueMemberS{Value: serverId},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to query %s for server %s: %w", table, serverId, err)
	}
	return d.batchWrite(ctx, table, deleteRequests(items))
}

func deleteRequests(items []map[string]types.AttributeValue) []types.WriteRequest {
	requests := make([]types.WriteRequest, 0, len(items))
	for _, item := range items {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
				"ServerId": item["ServerId"],
				"SortKey":  item["SortKey"],
			}},
		})
	}
	return requests
}

func serverKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"Id": &types.AttributeValueMemberS{Value: id},
	}
}
