package repository

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"qa-pipeline/internal/domain"
)

const attrRequestID = "request_id"

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Client stores answer records in a DynamoDB table partitioned by request_id.
type Client struct {
	api       dynamodbAPI
	tableName string
	userIndex string
}

type Option func(*Client)

// WithUserIndex queries the named global secondary index (partition key
// user_id) for per-user history instead of scanning the table.
func WithUserIndex(name string) Option {
	return func(c *Client) {
		c.userIndex = strings.TrimSpace(name)
	}
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string, opts ...Option) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	c := &Client{api: api, tableName: tableName}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func keyFor(requestID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrRequestID: &types.AttributeValueMemberS{Value: requestID},
	}
}

// Put writes rec, replacing any existing record with the same request id.
func (c *Client) Put(ctx context.Context, rec domain.AnswerRecord) error {
	if rec.RequestID == "" {
		return errors.New("repository: Put: request_id is required")
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      recordItem(rec),
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// Get returns the record for requestID or ErrNotFound.
func (c *Client) Get(ctx context.Context, requestID string) (domain.AnswerRecord, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            keyFor(requestID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("repository: Get: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.AnswerRecord{}, ErrNotFound
	}
	rec, err := itemToRecord(out.Item)
	if err != nil {
		return domain.AnswerRecord{}, fmt.Errorf("repository: Get unmarshal: %w", err)
	}
	return rec, nil
}

// ListByUser returns every record owned by userID in chronological order.
func (c *Client) ListByUser(ctx context.Context, userID string) ([]domain.AnswerRecord, error) {
	values := map[string]types.AttributeValue{
		":uid": &types.AttributeValueMemberS{Value: userID},
	}
	if c.userIndex != "" {
		return c.query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tableName),
			IndexName:                 aws.String(c.userIndex),
			KeyConditionExpression:    aws.String("user_id = :uid"),
			ExpressionAttributeValues: values,
		})
	}
	return c.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(c.tableName),
		FilterExpression:          aws.String("user_id = :uid"),
		ExpressionAttributeValues: values,
	})
}

// ListAll returns every record in chronological order.
func (c *Client) ListAll(ctx context.Context) ([]domain.AnswerRecord, error) {
	return c.scan(ctx, &dynamodb.ScanInput{TableName: aws.String(c.tableName)})
}

// Delete removes the record for requestID. Deleting a missing record succeeds.
func (c *Client) Delete(ctx context.Context, requestID string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       keyFor(requestID),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

func (c *Client) query(ctx context.Context, in *dynamodb.QueryInput) ([]domain.AnswerRecord, error) {
	var records []domain.AnswerRecord
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: query: %w", err)
		}
		if records, err = appendItems(records, out.Items); err != nil {
			return nil, err
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sortChronological(records)
	return records, nil
}

func (c *Client) scan(ctx context.Context, in *dynamodb.ScanInput) ([]domain.AnswerRecord, error) {
	var records []domain.AnswerRecord
	for {
		out, err := c.api.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: scan: %w", err)
		}
		if records, err = appendItems(records, out.Items); err != nil {
			return nil, err
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sortChronological(records)
	return records, nil
}

func appendItems(records []domain.AnswerRecord, items []map[string]types.AttributeValue) ([]domain.AnswerRecord, error) {
	if records == nil {
		records = make([]domain.AnswerRecord, 0, len(items))
	}
	for _, item := range items {
		rec, err := itemToRecord(item)
		if err != nil {
			return nil, fmt.Errorf("repository: unmarshal: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func recordItem(rec domain.AnswerRecord) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrRequestID: &types.AttributeValueMemberS{Value: rec.RequestID},
		"user_id":     &types.AttributeValueMemberS{Value: rec.UserID},
		"question":    &types.AttributeValueMemberS{Value: rec.Question},
		"topic":       &types.AttributeValueMemberS{Value: rec.Topic},
		"answer":      &types.AttributeValueMemberS{Value: rec.Answer},
		"timestamp":   &types.AttributeValueMemberS{Value: rec.Timestamp},
		"attempt":     &types.AttributeValueMemberN{Value: strconv.Itoa(rec.Attempt)},
	}
	if rec.AnsweredAt != "" {
		item["answered_at"] = &types.AttributeValueMemberS{Value: rec.AnsweredAt}
	}
	return item
}

// itemToRecord decodes an item. Only request_id is mandatory; the other
// attributes tolerate absence and number/string type drift.
func itemToRecord(item map[string]types.AttributeValue) (domain.AnswerRecord, error) {
	id, err := strAttr(item, attrRequestID)
	if err != nil {
		return domain.AnswerRecord{}, err
	}
	rec := domain.AnswerRecord{RequestID: id}
	rec.UserID, _ = strAttr(item, "user_id")
	rec.Question, _ = strAttr(item, "question")
	rec.Topic, _ = strAttr(item, "topic")
	rec.Answer, _ = strAttr(item, "answer")
	rec.Timestamp, _ = strAttr(item, "timestamp")
	rec.AnsweredAt, _ = strAttr(item, "answered_at")
	if _, ok := item["attempt"]; ok {
		n, err := intAttr(item, "attempt")
		if err != nil {
			return domain.AnswerRecord{}, err
		}
		rec.Attempt = n
	}
	return rec, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	switch a := v.(type) {
	case *types.AttributeValueMemberS:
		return a.Value, nil
	case *types.AttributeValueMemberN:
		n, err := NormalizeNumber(a.Value)
		if err != nil {
			return "", fmt.Errorf("repository: attribute %q: %w", key, err)
		}
		return fmt.Sprint(n), nil
	default:
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
}

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := NormalizeNumber(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	i, ok := parsed.(int64)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not an integer", key)
	}
	return int(i), nil
}

// NormalizeNumber converts a DynamoDB number string to int64 when it is
// integral and to float64 otherwise.
func NormalizeNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}
