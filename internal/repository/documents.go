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

	"cs-paralegal-bot/internal/domain"
)

// DynamoDB rejects items over 400KB.
const maxDocumentBytes = 350 << 10

// PutDocument stores a generated file under its name.
func (c *Client) PutDocument(ctx context.Context, doc domain.Document) error {
	if strings.TrimSpace(doc.Name) == "" {
		return errors.New("repository: PutDocument: name is required")
	}
	if len(doc.Body) > maxDocumentBytes {
		return fmt.Errorf("repository: PutDocument: %d bytes exceeds limit", len(doc.Body))
	}
	createdAt := doc.CreatedAt
	if createdAt == "" {
		createdAt = c.now().UTC().Format(time.RFC3339)
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item: map[string]types.AttributeValue{
			"PK":          &types.AttributeValueMemberS{Value: docPK(doc.Name)},
			"SK":          &types.AttributeValueMemberS{Value: skDocument},
			"name":        &types.AttributeValueMemberS{Value: doc.Name},
			"contentType": &types.AttributeValueMemberS{Value: doc.ContentType},
			"body":        &types.AttributeValueMemberB{Value: doc.Body},
			"createdAt":   &types.AttributeValueMemberS{Value: createdAt},
			"ttl":         numValue(c.ttlValue(0)),
		},
	})
	if err != nil {
		return fmt.Errorf("repository: PutDocument: %w", err)
	}
	return nil
}

// GetDocument loads a stored file. found is false when no such file exists.
func (c *Client) GetDocument(ctx context.Context, name string) (domain.Document, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: docPK(name)},
			"SK": &types.AttributeValueMemberS{Value: skDocument},
		},
	})
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("repository: GetDocument get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.Document{}, false, nil
	}

	body, err := binAttr(out.Item, "body")
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("repository: GetDocument decode: %w", err)
	}
	contentType, _ := strAttr(out.Item, "contentType")
	createdAt, _ := strAttr(out.Item, "createdAt")
	return domain.Document{
		Name:        name,
		ContentType: contentType,
		Body:        body,
		CreatedAt:   createdAt,
	}, true, nil
}
