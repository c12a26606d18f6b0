package appointments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Query(context.Context, *dynamodb.QueryInput, ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoRecordStore persists appointment records to DynamoDB. Records are keyed
// by appointmentId; a global secondary index on ownerId serves owner queries.
type DynamoRecordStore struct {
	client     dynamoAPI
	tableName  string
	ownerIndex string
	logger     *logging.Logger
	now        func() time.Time
}

var _ RecordStore = (*DynamoRecordStore)(nil)

// NewDynamoRecordStore builds a store backed by the provided DynamoDB client.
func NewDynamoRecordStore(client dynamoAPI, tableName, ownerIndex string, logger *logging.Logger) *DynamoRecordStore {
	if client == nil {
		panic("appointments: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("appointments: table name cannot be empty")
	}
	if ownerIndex == "" {
		panic("appointments: owner index cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRecordStore{
		client:     client,
		tableName:  tableName,
		ownerIndex: ownerIndex,
		logger:     logger,
		now:        time.Now,
	}
}

// Create inserts a new record, refusing to overwrite an existing id.
func (s *DynamoRecordStore) Create(ctx context.Context, record *saga.Record) error {
	if record == nil {
		return errors.New("appointments: record cannot be nil")
	}
	item, err := attributevalue.MarshalMap(record)
	if err != nil {
		return fmt.Errorf("appointments: failed to marshal record: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(appointmentId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("appointments: create %s: %w", record.ID, saga.ErrAlreadyExists)
		}
		return fmt.Errorf("appointments: failed to persist record: %w", err)
	}
	return nil
}

// Get fetches a record by id with a strongly consistent read.
func (s *DynamoRecordStore) Get(ctx context.Context, id string) (*saga.Record, error) {
	if id == "" {
		return nil, errors.New("appointments: id required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            recordKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("appointments: failed to fetch record: %w", err)
	}
	if out.Item == nil {
		return nil, saga.ErrNotFound
	}

	var record saga.Record
	if err := attributevalue.UnmarshalMap(out.Item, &record); err != nil {
		return nil, fmt.Errorf("appointments: failed to decode record: %w", err)
	}
	return &record, nil
}

// ListByOwner queries the owner index, following pagination.
func (s *DynamoRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]saga.Record, error) {
	if ownerID == "" {
		return nil, errors.New("appointments: ownerID required")
	}
	input := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		IndexName:              aws.String(s.ownerIndex),
		KeyConditionExpression: aws.String("ownerId = :owner"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: ownerID},
		},
	}

	records := []saga.Record{}
	for {
		out, err := s.client.Query(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("appointments: failed to query owner %s: %w", ownerID, err)
		}
		var page []saga.Record
		if err := attributevalue.UnmarshalListOfMaps(out.Items, &page); err != nil {
			return nil, fmt.Errorf("appointments: failed to decode owner records: %w", err)
		}
		records = append(records, page...)
		if len(out.LastEvaluatedKey) == 0 {
			return records, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// ConditionalUpdateStatus moves a record from expected to next in a single
// conditional write. On condition failure the old item is returned by
// DynamoDB, which tells a missing record apart from a terminal one.
func (s *DynamoRecordStore) ConditionalUpdateStatus(ctx context.Context, id string, expected, next saga.Status, errMsg string) error {
	if id == "" {
		return errors.New("appointments: id required")
	}
	if !expected.CanTransitionTo(next) {
		return fmt.Errorf("appointments: update %s from %s to %s: %w", id, expected, next, saga.ErrConditionFailed)
	}
	expression := "SET #status = :status, #updated = :updated"
	values := map[string]types.AttributeValue{
		":status":   &types.AttributeValueMemberS{Value: string(next)},
		":expected": &types.AttributeValueMemberS{Value: string(expected)},
		":updated":  &types.AttributeValueMemberS{Value: saga.Timestamp(s.now())},
	}
	names := map[string]string{
		"#status":  "status",
		"#updated": "updatedAt",
	}
	if errMsg != "" {
		expression += ", #error = :error"
		values[":error"] = &types.AttributeValueMemberS{Value: errMsg}
		names["#error"] = "errorMessage"
	}

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(s.tableName),
		Key:                                 recordKey(id),
		UpdateExpression:                    aws.String(expression),
		ConditionExpression:                 aws.String("attribute_exists(appointmentId) AND #status = :expected"),
		ExpressionAttributeNames:            names,
		ExpressionAttributeValues:           values,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return fmt.Errorf("appointments: update %s: %w", id, saga.ErrNotFound)
			}
			return fmt.Errorf("appointments: update %s to %s: %w", id, next, saga.ErrConditionFailed)
		}
		return fmt.Errorf("appointments: failed to update record %s: %w", id, err)
	}
	return nil
}

func recordKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"appointmentId": &types.AttributeValueMemberS{Value: id},
	}
}
