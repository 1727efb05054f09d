package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrPK        = "PK"
	attrSK        = "SK"
	attrValue     = "value"
	attrUpdatedAt = "updatedAt"
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore keeps every key of one profile in a single DynamoDB
// partition: PK is the partition name and SK the key, so a prefix scan is a
// begins_with query on the sort key.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	partition string
}

// NewDynamoStore creates a Store over tableName scoped to partition.
func NewDynamoStore(api dynamodbAPI, tableName, partition string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	if strings.TrimSpace(partition) == "" {
		return nil, errors.New("repository: partition must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, partition: partition}, nil
}

// partitionPK returns the partition key shared by every item of the store.
func (d *DynamoStore) partitionPK() string {
	return "PROFILE#" + d.partition
}

func (d *DynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: d.partitionPK()},
		attrSK: &types.AttributeValueMemberS{Value: key},
	}
}

// Get reads the value for key with a consistent read.
func (d *DynamoStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := validateKey("Get", key); err != nil {
		return nil, err
	}
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: Get get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	value, err := strAttr(out.Item, attrValue)
	if err != nil {
		return nil, fmt.Errorf("repository: Get decode value: %w", err)
	}
	return []byte(value), nil
}

// Set replaces the whole item stored under key.
func (d *DynamoStore) Set(ctx context.Context, key string, value []byte) error {
	if err := validateKey("Set", key); err != nil {
		return err
	}
	item := d.itemKey(key)
	item[attrValue] = &types.AttributeValueMemberS{Value: string(value)}
	item[attrUpdatedAt] = &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)}

	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Set: %w", err)
	}
	return nil
}

// Delete removes key; DynamoDB treats a missing item as success.
func (d *DynamoStore) Delete(ctx context.Context, key string) error {
	if err := validateKey("Delete", key); err != nil {
		return err
	}
	_, err := d.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(d.tableName),
		Key:       d.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// Keys pages through the partition and returns sort keys starting with prefix.
func (d *DynamoStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys  []string
		start map[string]types.AttributeValue
	)
	for {
		in := &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: d.partitionPK()},
				":prefix": &types.AttributeValueMemberS{Value: prefix},
			},
			ProjectionExpression: aws.String("SK"),
			ExclusiveStartKey:    start,
		}
		if prefix == "" {
			in.KeyConditionExpression = aws.String("PK = :pk")
			delete(in.ExpressionAttributeValues, ":prefix")
		}

		out, err := d.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: Keys query: %w", err)
		}
		for _, item := range out.Items {
			sk, err := strAttr(item, attrSK)
			if err != nil {
				return nil, fmt.Errorf("repository: Keys decode: %w", err)
			}
			keys = append(keys, sk)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	sort.Strings(keys)
	return keys, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
