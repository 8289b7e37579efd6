package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"cs-paralegal-bot/internal/domain"
)

// GetHistory returns up to limit of the sender's most recent turns, oldest first.
func (c *Client) GetHistory(ctx context.Context, sender string, limit int) ([]domain.Message, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: senderPK(sender)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixTurn},
		},
		// Read newest first so LIMIT favors the most recent context.
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
	// Reverse to chronological order before returning to prompt assembly.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// SaveTurn persists one answered question for the sender.
func (c *Client) SaveTurn(ctx context.Context, sender, question, answer string) error {
	if sender == "" {
		return errors.New("repository: SaveTurn: sender is required")
	}
	msg := c.NewMessage(sender, question, answer)
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                messageItem(msg),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: SaveTurn: %w", err)
	}
	return nil
}

// NewMessage constructs a Message with PK/SK/TTL set from sender and current time.
func (c *Client) NewMessage(sender, text, answer string) domain.Message {
	return domain.Message{
		PK:     senderPK(sender),
		SK:     timeSK(skPrefixTurn, c.now()),
		Sender: sender,
		Text:   text,
		Answer: answer,
		TTL:    c.ttlValue(0),
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
	text, err := strAttr(item, "text")
	if err != nil {
		return domain.Message{}, err
	}
	answer, _ := strAttr(item, "answer") // allow empty
	sender, _ := strAttr(item, "sender")

	return domain.Message{
		PK:     pk,
		SK:     sk,
		Sender: sender,
		Text:   text,
		Answer: answer,
	}, nil
}

func messageItem(msg domain.Message) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: msg.PK},
		"SK":     &types.AttributeValueMemberS{Value: msg.SK},
		"sender": &types.AttributeValueMemberS{Value: msg.Sender},
		"text":   &types.AttributeValueMemberS{Value: msg.Text},
		"answer": &types.AttributeValueMemberS{Value: msg.Answer},
		"ttl":    numValue(msg.TTL),
	}
}
