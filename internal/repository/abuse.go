package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"cs-paralegal-bot/internal/domain"
)

// LogAbuse appends a blocked message to the sender's abuse log. Entries are
// kept without a TTL so they remain available for review.
func (c *Client) LogAbuse(ctx context.Context, sender, message, term string) error {
	now := c.now()
	rec := domain.AbuseRecord{
		Sender:   sender,
		Message:  message,
		Term:     term,
		LoggedAt: now.UTC().Format(time.RFC3339),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":       &types.AttributeValueMemberS{Value: senderPK(sender)},
			"SK":       &types.AttributeValueMemberS{Value: timeSK(skPrefixAbuse, now)},
			"sender":   &types.AttributeValueMemberS{Value: rec.Sender},
			"message":  &types.AttributeValueMemberS{Value: rec.Message},
			"term":     &types.AttributeValueMemberS{Value: rec.Term},
			"loggedAt": &types.AttributeValueMemberS{Value: rec.LoggedAt},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: LogAbuse: %w", err)
	}
	return nil
}
