package history

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const dynamoSK = "VALUE"

// dynamodbAPI is the minimal DynamoDB interface required by DynamoKV.
// *dynamodb.Client satisfies it.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoKV stores each key as one item of a DynamoDB table keyed by PK/SK.
type DynamoKV struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoKV creates a DynamoKV writing to tableName.
func NewDynamoKV(api dynamodbAPI, tableName string) (*DynamoKV, error) {
	if api == nil {
		return nil, errors.New("history: dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("history: table name must not be empty")
	}
	return &DynamoKV{api: api, tableName: tableName}, nil
}

func dynamoPK(key string) string {
	return "KV#" + key
}

func (d *DynamoKV) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: dynamoPK(key)},
		"SK": &types.AttributeValueMemberS{Value: dynamoSK},
	}
}

func (d *DynamoKV) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := d.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		Key:            d.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("history: dynamodb get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	v, ok := out.Item["value"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, errors.New("history: dynamodb item has no string value")
	}
	return []byte(v.Value), nil
}

func (d *DynamoKV) Set(ctx context.Context, key string, value []byte) error {
	item := d.itemKey(key)
	item["value"] = &types.AttributeValueMemberS{Value: string(value)}
	item["updatedAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(time.Now().UnixMilli(), 10)}

	_, err := d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("history: dynamodb put item: %w", err)
	}
	return nil
}
