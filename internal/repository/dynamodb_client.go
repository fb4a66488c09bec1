package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"travelnow-support/internal/domain"
)

const (
	skPrefixMsg = "MSG#"
	ttlDuration = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// ReadWriter defines the chat history operations consumed by the chat service.
type ReadWriter interface {
	GetHistory(ctx context.Context, userID string, limit int) ([]domain.Message, error)
	SaveExchange(ctx context.Context, userID, question, answer string) error
}

// Client wraps a DynamoDB table holding every visitor's chat history.
type Client struct {
	api       dynamodbAPI
	tableName string
}

var _ ReadWriter = (*Client)(nil)

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName}, nil
}

var newMessageID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now()
}

// userPK returns the DynamoDB partition key for a visitor.
func userPK(userID string) string {
	return "USER#" + userID
}

// msgSK orders messages by time; seq breaks ties between the two halves of
// one exchange written with the same timestamp.
func msgSK(ts time.Time, seq int) string {
	return fmt.Sprintf("%s%s#%d", skPrefixMsg, ts.UTC().Format(time.RFC3339Nano), seq)
}

// ttlValue returns a Unix timestamp 30 days after ts.
func ttlValue(ts time.Time) int64 {
	return ts.Add(ttlDuration).Unix()
}

// GetHistory returns the newest limit messages for a visitor, oldest first.
func (c *Client) GetHistory(ctx context.Context, userID string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixMsg},
		},
		// Read newest first so LIMIT keeps the most recent turns.
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	out, err := c.api.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("repository: GetHistory query: %w", err)
	}

	msgs := make([]domain.Message, 0, len(out.Items))
	for _, item := range out.Items {
		msg, err := itemToMessage(item)
		if err != nil {
			return nil, fmt.Errorf("repository: GetHistory unmarshal: %w", err)
		}
		msgs = append(msgs, msg)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SaveExchange writes the visitor message and the agent reply in one
// transaction so history never holds a question without its answer.
func (c *Client) SaveExchange(ctx context.Context, userID, question, answer string) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("repository: SaveExchange: user id is required")
	}
	ts := now()
	visitor := NewMessage(userID, domain.Visitor, question, ts, 0)
	agent := NewMessage(userID, domain.Agent, answer, ts, 1)

	_, err := c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{Put: c.putMessage(visitor)},
			{Put: c.putMessage(agent)},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: SaveExchange: %w", err)
	}
	return nil
}

func (c *Client) putMessage(msg domain.Message) *types.Put {
	return &types.Put{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	}
}

// NewMessage constructs a Message with keys and TTL derived from userID and ts.
func NewMessage(userID string, sender domain.Origin, text string, ts time.Time, seq int) domain.Message {
	return domain.Message{
		PK:     userPK(userID),
		SK:     msgSK(ts, seq),
		ID:     newMessageID(),
		UserID: userID,
		Sender: sender,
		Text:   text,
		TTL:    ttlValue(ts),
	}
}

// itemToMessage converts a DynamoDB attribute map to a Message.
func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	pk, err := strAttr(item, "PK")
	if err != nil {
		return domain.Message{}, err
	}
	sk, err := strAttr(item, "SK")
	if err != nil {
		return domain.Message{}, err
	}
	id, err := strAttr(item, "id")
	if err != nil {
		return domain.Message{}, err
	}
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.Message{}, err
	}
	text, err := strAttr(item, "message")
	if err != nil {
		return domain.Message{}, err
	}
	userID, _ := strAttr(item, "userId") // allow empty

	return domain.Message{
		PK:     pk,
		SK:     sk,
		ID:     id,
		UserID: userID,
		Sender: domain.Origin(sender),
		Text:   text,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: msg.PK},
		"SK":      &types.AttributeValueMemberS{Value: msg.SK},
		"id":      &types.AttributeValueMemberS{Value: msg.ID},
		"userId":  &types.AttributeValueMemberS{Value: msg.UserID},
		"sender":  &types.AttributeValueMemberS{Value: string(msg.Sender)},
		"message": &types.AttributeValueMemberS{Value: msg.Text},
		"ttl":     &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", msg.TTL)},
	}
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
