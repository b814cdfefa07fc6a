package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	dynamoPKPrefix = "CONV#"
	dynamoSKPrefix = "MSG#"

	// sortKeyLayout is fixed width so sort keys order lexicographically by time.
	sortKeyLayout = "2006-01-02T15:04:05.000000Z"
)

// dynamodbAPI is the subset of the DynamoDB client used by DynamoStore.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoStore is a Backend over a single DynamoDB table keyed by
// PK = CONV#<conversation> and SK = MSG#<timestamp>#<id>.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
}

// NewDynamoStore creates a DynamoStore over api.
func NewDynamoStore(api dynamodbAPI, tableName string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("dynamodb api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("dynamodb table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName}, nil
}

// OpenDynamoStore loads the default AWS configuration and connects to
// tableName. endpoint overrides the service endpoint (for local DynamoDB).
func OpenDynamoStore(ctx context.Context, region, tableName, endpoint string) (*DynamoStore, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewDynamoStore(client, tableName)
}

func conversationPK(conversationID string) string {
	return dynamoPKPrefix + conversationID
}

func messageSK(msg Message) string {
	return dynamoSKPrefix + msg.CreatedAt.UTC().Format(sortKeyLayout) + "#" + msg.ID
}

// Name implements Backend.
func (d *DynamoStore) Name() string { return "dynamodb" }

// Insert implements Backend.
func (d *DynamoStore) Insert(ctx context.Context, msg Message) error {
	item, err := messageItem(msg)
	if err != nil {
		return err
	}
	_, err = d.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("insert %s: %w", msg.ID, errDuplicateID)
		}
		return fmt.Errorf("dynamodb put message: %w", err)
	}
	return nil
}

// History implements Backend. It follows pagination until the partition is exhausted.
func (d *DynamoStore) History(ctx context.Context, conversationID string) ([]Message, error) {
	var (
		msgs  []Message
		start map[string]types.AttributeValue
	)
	for {
		out, err := d.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk":     &types.AttributeValueMemberS{Value: conversationPK(conversationID)},
				":prefix": &types.AttributeValueMemberS{Value: dynamoSKPrefix},
			},
			ScanIndexForward:  aws.Bool(true),
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("dynamodb query history: %w", err)
		}
		for _, item := range out.Items {
			msg, err := itemToMessage(item)
			if err != nil {
				return nil, fmt.Errorf("dynamodb decode message: %w", err)
			}
			msgs = append(msgs, msg)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return msgs, nil
		}
		start = out.LastEvaluatedKey
	}
}

// Latest implements Backend.
func (d *DynamoStore) Latest(ctx context.Context, conversationID string) (time.Time, error) {
	out, err := d.api.Query(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: conversationPK(conversationID)},
			":prefix": &types.AttributeValueMemberS{Value: dynamoSKPrefix},
		},
		ScanIndexForward: aws.Bool(false),
		ConsistentRead:   aws.Bool(true),
		Limit:            aws.Int32(1),
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("dynamodb query latest: %w", err)
	}
	if out == nil || len(out.Items) == 0 {
		return time.Time{}, nil
	}
	micros, err := intAttr(out.Items[0], "createdAt")
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMicro(micros).UTC(), nil
}

// Close implements Backend.
func (d *DynamoStore) Close() error { return nil }

func messageItem(msg Message) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: conversationPK(msg.ConversationID)},
		"SK":             &types.AttributeValueMemberS{Value: messageSK(msg)},
		"id":             &types.AttributeValueMemberS{Value: msg.ID},
		"conversationId": &types.AttributeValueMemberS{Value: msg.ConversationID},
		"content":        &types.AttributeValueMemberS{Value: msg.Content},
		"isUser":         &types.AttributeValueMemberBOOL{Value: msg.IsUser},
		"createdAt":      &types.AttributeValueMemberN{Value: strconv.FormatInt(msg.CreatedAt.UnixMicro(), 10)},
	}
	if msg.Action != "" {
		item["action"] = &types.AttributeValueMemberS{Value: msg.Action}
	}
	if len(msg.Metadata) > 0 {
		data, err := json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		item["metadata"] = &types.AttributeValueMemberS{Value: string(data)}
	}
	if len(msg.AttachmentRefs) > 0 {
		refs := make([]types.AttributeValue, 0, len(msg.AttachmentRefs))
		for _, ref := range msg.AttachmentRefs {
			refs = append(refs, &types.AttributeValueMemberS{Value: ref})
		}
		item["attachmentRefs"] = &types.AttributeValueMemberL{Value: refs}
	}
	return item, nil
}

func itemToMessage(item map[string]types.AttributeValue) (Message, error) {
	var (
		msg Message
		err error
	)
	if msg.ID, err = strAttr(item, "id"); err != nil {
		return Message{}, err
	}
	if msg.ConversationID, err = strAttr(item, "conversationId"); err != nil {
		return Message{}, err
	}
	if msg.Content, err = strAttr(item, "content"); err != nil {
		return Message{}, err
	}
	micros, err := intAttr(item, "createdAt")
	if err != nil {
		return Message{}, err
	}
	msg.CreatedAt = time.UnixMicro(micros).UTC()

	if v, ok := item["isUser"].(*types.AttributeValueMemberBOOL); ok {
		msg.IsUser = v.Value
	}
	msg.Action, _ = strAttr(item, "action") // optional
	if raw, err := strAttr(item, "metadata"); err == nil && raw != "" {
		if err := json.Unmarshal([]byte(raw), &msg.Metadata); err != nil {
			return Message{}, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if list, ok := item["attachmentRefs"].(*types.AttributeValueMemberL); ok {
		for _, v := range list.Value {
			if s, ok := v.(*types.AttributeValueMemberS); ok {
				msg.AttachmentRefs = append(msg.AttachmentRefs, s.Value)
			}
		}
	}
	return msg, nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("attribute %q is not a string", key)
	}
	return s.Value, nil
}

func intAttr(item map[string]types.AttributeValue, key string) (int64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
