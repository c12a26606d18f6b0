package appointments

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

func TestDynamoRecordStore_CreateIsConditional(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	record := &saga.Record{ID: "a-1", OwnerID: "12345", ScheduleID: 100, CountryCode: "PE", Status: saga.StatusPending}
	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if mock.putInput == nil {
		t.Fatal("expected PutItem to be called")
	}
	if got := *mock.putInput.ConditionExpression; got != "attribute_not_exists(appointmentId)" {
		t.Fatalf("unexpected condition %q", got)
	}
	var stored saga.Record
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored record: %v", err)
	}
	if stored.ID != "a-1" || stored.Status != saga.StatusPending || stored.ScheduleID != 100 {
		t.Fatalf("unexpected stored record %+v", stored)
	}
	if _, ok := mock.putInput.Item["errorMessage"]; ok {
		t.Fatal("expected empty errorMessage to be omitted")
	}
}

func TestDynamoRecordStore_CreateDuplicate(t *testing.T) {
	mock := &mockDynamo{putErr: &types.ConditionalCheckFailedException{}}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	err := store.Create(context.Background(), &saga.Record{ID: "a-1"})
	if !errors.Is(err, saga.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestDynamoRecordStore_GetMissing(t *testing.T) {
	store := NewDynamoRecordStore(&mockDynamo{}, "appointments", "ownerId-index", logging.Discard())
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, saga.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDynamoRecordStore_GetUsesConsistentRead(t *testing.T) {
	item, err := attributevalue.MarshalMap(saga.Record{ID: "a-1", Status: saga.StatusCompleted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{Item: item}}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	record, err := store.Get(context.Background(), "a-1")
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if record.Status != saga.StatusCompleted {
		t.Fatalf("expected completed, got %s", record.Status)
	}
	if mock.getInput.ConsistentRead == nil || !*mock.getInput.ConsistentRead {
		t.Fatal("expected consistent read")
	}
}

func TestDynamoRecordStore_ConditionalUpdateExpression(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	err := store.ConditionalUpdateStatus(context.Background(), "a-1", saga.StatusPending, saga.StatusFailed, "dispatch failure")
	if err != nil {
		t.Fatalf("ConditionalUpdateStatus returned error: %v", err)
	}
	update := mock.updateInputs[0]
	if !strings.Contains(*update.ConditionExpression, "#status = :expected") {
		t.Fatalf("expected status guard, got %q", *update.ConditionExpression)
	}
	if update.ExpressionAttributeNames["#status"] != "status" || update.ExpressionAttributeNames["#error"] != "errorMessage" {
		t.Fatalf("expected reserved attribute names to be aliased, got %v", update.ExpressionAttributeNames)
	}
	if v := update.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberS).Value; v != "pending" {
		t.Fatalf("expected pending guard, got %s", v)
	}
	if v := update.ExpressionAttributeValues[":error"].(*types.AttributeValueMemberS).Value; v != "dispatch failure" {
		t.Fatalf("unexpected error message %s", v)
	}
}

func TestDynamoRecordStore_ConditionalUpdateWithoutMessage(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	if err := store.ConditionalUpdateStatus(context.Background(), "a-1", saga.StatusPending, saga.StatusCompleted, ""); err != nil {
		t.Fatalf("ConditionalUpdateStatus returned error: %v", err)
	}
	update := mock.updateInputs[0]
	if strings.Contains(*update.UpdateExpression, "#error") {
		t.Fatalf("did not expect errorMessage in %q", *update.UpdateExpression)
	}
}

func TestDynamoRecordStore_ConditionalUpdateFailures(t *testing.T) {
	existing, _ := attributevalue.MarshalMap(saga.Record{ID: "a-1", Status: saga.StatusCompleted})

	cases := []struct {
		name string
		err  error
		want error
	}{
		{name: "terminal record", err: &types.ConditionalCheckFailedException{Item: existing}, want: saga.ErrConditionFailed},
		{name: "missing record", err: &types.ConditionalCheckFailedException{}, want: saga.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewDynamoRecordStore(&mockDynamo{updateErr: tc.err}, "appointments", "ownerId-index", logging.Discard())
			err := store.ConditionalUpdateStatus(context.Background(), "a-1", saga.StatusPending, saga.StatusFailed, "x")
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDynamoRecordStore_ListByOwnerPaginates(t *testing.T) {
	first, _ := attributevalue.MarshalMap(saga.Record{ID: "a-1", OwnerID: "12345"})
	second, _ := attributevalue.MarshalMap(saga.Record{ID: "a-2", OwnerID: "12345"})
	mock := &mockDynamo{queryOutputs: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{first}, LastEvaluatedKey: recordKey("a-1")},
		{Items: []map[string]types.AttributeValue{second}},
	}}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	records, err := store.ListByOwner(context.Background(), "12345")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if len(mock.queryInputs) != 2 || mock.queryInputs[1].ExclusiveStartKey == nil {
		t.Fatal("expected second page to resume from last key")
	}
	if *mock.queryInputs[0].IndexName != "ownerId-index" {
		t.Fatalf("unexpected index %s", *mock.queryInputs[0].IndexName)
	}
}

func TestDynamoRecordStore_ListByOwnerEmpty(t *testing.T) {
	store := NewDynamoRecordStore(&mockDynamo{}, "appointments", "ownerId-index", logging.Discard())
	records, err := store.ListByOwner(context.Background(), "99999")
	if err != nil {
		t.Fatalf("ListByOwner returned error: %v", err)
	}
	if records == nil || len(records) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", records)
	}
}

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getInput     *dynamodb.GetItemInput
	getOutput    *dynamodb.GetItemOutput
	getErr       error
	queryInputs  []*dynamodb.QueryInput
	queryOutputs []*dynamodb.QueryOutput
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	m.getInput = input
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}

func (m *mockDynamo) Query(ctx context.Context, input *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	copied := *input
	m.queryInputs = append(m.queryInputs, &copied)
	if len(m.queryOutputs) == 0 {
		return &dynamodb.QueryOutput{}, nil
	}
	out := m.queryOutputs[0]
	m.queryOutputs = m.queryOutputs[1:]
	return out, nil
}

func TestDynamoRecordStore_ConditionalUpdateRejectsInvalidTransition(t *testing.T) {
	mock := &mockDynamo{}
	store := NewDynamoRecordStore(mock, "appointments", "ownerId-index", logging.Discard())

	for _, tc := range []struct{ from, to saga.Status }{
		{saga.StatusPending, saga.StatusPending},
		{saga.StatusCompleted, saga.StatusFailed},
	} {
		err := store.ConditionalUpdateStatus(context.Background(), "a-1", tc.from, tc.to, "")
		if !errors.Is(err, saga.ErrConditionFailed) {
			t.Fatalf("%s -> %s: expected ErrConditionFailed, got %v", tc.from, tc.to, err)
		}
	}
	if len(mock.updateInputs) != 0 {
		t.Fatalf("expected no UpdateItem calls, got %d", len(mock.updateInputs))
	}
}
