package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	queryPages   []*dynamodb.QueryOutput
	queryErr     error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
	queryInputs  []*dynamodb.QueryInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryInputs = append(f.queryInputs, in)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	idx := len(f.queryInputs) - 1
	if idx >= len(f.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryPages[idx], nil
}

func skItem(sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: "PROFILE#laptop"},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "test-table", "laptop")
	require.NoError(t, err)
	return s
}

func TestNewDynamoStore_ValidatesArguments(t *testing.T) {
	_, err := NewDynamoStore(nil, "t", "p")
	require.Error(t, err)
	_, err = NewDynamoStore(&fakeDynamo{}, " ", "p")
	require.Error(t, err)
	_, err = NewDynamoStore(&fakeDynamo{}, "t", "")
	require.Error(t, err)
}

func TestDynamoGet_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "PROFILE#laptop"},
		"SK":    &types.AttributeValueMemberS{Value: "token"},
		"value": &types.AttributeValueMemberS{Value: "abc"},
	}}}
	s := mustNewDynamoStore(t, db)

	v, err := s.Get(context.Background(), "token")
	require.NoError(t, err)
	require.Equal(t, "abc", string(v))
	require.True(t, *db.lastGetInput.ConsistentRead)
	require.Equal(t, "PROFILE#laptop", db.lastGetInput.Key["PK"].(*types.AttributeValueMemberS).Value)
	require.Equal(t, "token", db.lastGetInput.Key["SK"].(*types.AttributeValueMemberS).Value)
}

func TestDynamoGet_Missing(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, err := s.Get(context.Background(), "token")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDynamoGet_Errors(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getErr: errors.New("boom")})
	_, err := s.Get(context.Background(), "token")
	require.ErrorContains(t, err, "boom")

	s = mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"value": &types.AttributeValueMemberN{Value: "1"},
	}}})
	_, err = s.Get(context.Background(), "token")
	require.ErrorContains(t, err, "decode value")
}

func TestDynamoSet_WritesWholeItem(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)

	require.NoError(t, s.Set(context.Background(), "chat_history_default", []byte(`[]`)))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
	require.Equal(t, "[]", db.lastPutInput.Item["value"].(*types.AttributeValueMemberS).Value)
	require.Contains(t, db.lastPutInput.Item, "updatedAt")
	require.Nil(t, db.lastPutInput.ConditionExpression)
}

func TestDynamoSet_Error(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{putErr: errors.New("throttled")})
	err := s.Set(context.Background(), "k", nil)
	require.ErrorContains(t, err, "throttled")
}

func TestDynamoDelete(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	require.NoError(t, s.Delete(context.Background(), "token"))
	require.Equal(t, "token", db.lastDelInput.Key["SK"].(*types.AttributeValueMemberS).Value)

	s = mustNewDynamoStore(t, &fakeDynamo{deleteErr: errors.New("boom")})
	require.Error(t, s.Delete(context.Background(), "token"))
}

func TestDynamoKeys_PagesAndSorts(t *testing.T) {
	db := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{
			Items:            []map[string]types.AttributeValue{skItem("chat_history_b")},
			LastEvaluatedKey: skItem("chat_history_b"),
		},
		{
			Items: []map[string]types.AttributeValue{skItem("chat_history_a")},
		},
	}}
	s := mustNewDynamoStore(t, db)

	keys, err := s.Keys(context.Background(), "chat_history_")
	require.NoError(t, err)
	require.Equal(t, []string{"chat_history_a", "chat_history_b"}, keys)
	require.Len(t, db.queryInputs, 2)
	require.Nil(t, db.queryInputs[0].ExclusiveStartKey)
	require.NotNil(t, db.queryInputs[1].ExclusiveStartKey)
	require.Equal(t, "PK = :pk AND begins_with(SK, :prefix)", *db.queryInputs[0].KeyConditionExpression)
}

func TestDynamoKeys_EmptyPrefixQueriesWholePartition(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	_, err := s.Keys(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, "PK = :pk", *db.queryInputs[0].KeyConditionExpression)
	require.NotContains(t, db.queryInputs[0].ExpressionAttributeValues, ":prefix")
}

func TestDynamoKeys_QueryError(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{queryErr: errors.New("boom")})
	_, err := s.Keys(context.Background(), "x")
	require.ErrorContains(t, err, "Keys query")
}
