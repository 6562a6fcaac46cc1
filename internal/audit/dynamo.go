package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"
)

// DynamoLog stores audit entries in DynamoDB. The table is keyed by
// (entity_id, record_id) so entries for one entity stay together and can be
// read back in insertion order via the created_at attribute.
type DynamoLog struct {
	client    *dynamodb.Client
	tableName string
}

// dynamoEntry represents the DynamoDB item structure
type dynamoEntry struct {
	EntityID   string `dynamodbav:"entity_id"`
	RecordID   string `dynamodbav:"record_id"`
	EntityType string `dynamodbav:"entity_type"`
	Action     string `dynamodbav:"action"`
	Detail     string `dynamodbav:"detail"`
	ActorID    string `dynamodbav:"actor_id"`
	CreatedAt  string `dynamodbav:"created_at"`
}

func NewDynamoLog(client *dynamodb.Client, tableName string) *DynamoLog {
	return &DynamoLog{client: client, tableName: tableName}
}

// Record appends one entry. The conditional write guards against record ID
// reuse so the trail stays strictly append-only.
func (l *DynamoLog) Record(ctx context.Context, e Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}

	item := dynamoEntry{
		EntityID:   e.EntityID,
		RecordID:   uuid.New().String(),
		EntityType: e.EntityType,
		Action:     e.Action,
		Detail:     e.Detail,
		ActorID:    e.ActorID,
		CreatedAt:  at.Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(entity_id) AND attribute_not_exists(record_id)"),
	})
	if err != nil {
		return fmt.Errorf("failed to put audit entry: %w", err)
	}
	return nil
}
