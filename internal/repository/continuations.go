package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"cs-paralegal-bot/internal/domain"
)

// maxTakeAttempts bounds how often TakeNext re-reads a record that another
// request modified between read and write.
const maxTakeAttempts = 3

// ChunkStore keeps one pending continuation item per sender. Each write stamps
// a fresh rev and pops are conditional on the rev they read, so two concurrent
// pops for the same sender never return the same chunk.
type ChunkStore struct {
	client *Client
	ttl    time.Duration
	logger *slog.Logger
	newRev func() string
}

// ChunkStore returns the continuation store backed by this table. Records
// expire after ttl (30 days when ttl <= 0).
func (c *Client) ChunkStore(ttl time.Duration, logger *slog.Logger) *ChunkStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkStore{client: c, ttl: ttl, logger: logger, newRev: uuid.NewString}
}

func (s *ChunkStore) key(sender string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: senderPK(sender)},
		"SK": &types.AttributeValueMemberS{Value: skContinuation},
	}
}

// Put replaces the sender's pending chunks. An empty list clears the record.
func (s *ChunkStore) Put(ctx context.Context, sender string, chunks []string) error {
	if sender == "" {
		return errors.New("repository: Put: sender is required")
	}
	if len(chunks) == 0 {
		return s.Clear(ctx, sender)
	}
	item, err := s.item(sender, chunks)
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	_, err = s.client.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.client.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// TakeNext pops the head of the sender's pending chunks. Missing, foreign,
// expired or unreadable records report ok=false without an error.
func (s *ChunkStore) TakeNext(ctx context.Context, sender string) (string, bool, error) {
	for attempt := 0; attempt < maxTakeAttempts; attempt++ {
		rec, found, err := s.load(ctx, sender)
		if err != nil {
			return "", false, err
		}
		if !found || len(rec.Chunks) == 0 {
			return "", false, nil
		}

		err = s.replace(ctx, rec, rec.Chunks[1:])
		if isConditionFailed(err) {
			s.logger.DebugContext(ctx, "continuation changed during pop, retrying", "sender", sender, "attempt", attempt+1)
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("repository: TakeNext: %w", err)
		}
		return rec.Chunks[0], true, nil
	}
	s.logger.WarnContext(ctx, "gave up popping contended continuation", "sender", sender)
	return "", false, nil
}

// Clear deletes the sender's pending chunks. Deleting a missing record is not
// an error.
func (s *ChunkStore) Clear(ctx context.Context, sender string) error {
	_, err := s.client.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.client.tableName),
		Key:       s.key(sender),
	})
	if err != nil {
		return fmt.Errorf("repository: Clear: %w", err)
	}
	return nil
}

func (s *ChunkStore) load(ctx context.Context, sender string) (domain.PendingContinuation, bool, error) {
	out, err := s.client.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.client.tableName),
		Key:            s.key(sender),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return domain.PendingContinuation{}, false, fmt.Errorf("repository: TakeNext get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return domain.PendingContinuation{}, false, nil
	}

	rec, err := itemToContinuation(out.Item)
	if err != nil {
		s.logger.WarnContext(ctx, "ignoring malformed continuation", "sender", sender, "err", err)
		return domain.PendingContinuation{}, false, nil
	}
	if rec.Sender != sender {
		s.logger.WarnContext(ctx, "continuation sender mismatch", "sender", sender, "stored_sender", rec.Sender)
		return domain.PendingContinuation{}, false, nil
	}
	// DynamoDB removes expired items lazily, sometimes hours after ttl.
	if rec.TTL != 0 && rec.TTL < s.client.now().Unix() {
		s.logger.DebugContext(ctx, "ignoring expired continuation", "sender", sender, "ttl", rec.TTL)
		return domain.PendingContinuation{}, false, nil
	}
	return rec, true, nil
}

// replace writes tail in place of rec, or deletes rec when tail is empty. Both
// are conditional on rec.Rev still being current.
func (s *ChunkStore) replace(ctx context.Context, rec domain.PendingContinuation, tail []string) error {
	cond := aws.String("rev = :rev")
	values := map[string]types.AttributeValue{
		":rev": &types.AttributeValueMemberS{Value: rec.Rev},
	}

	if len(tail) == 0 {
		_, err := s.client.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 aws.String(s.client.tableName),
			Key:                       s.key(rec.Sender),
			ConditionExpression:       cond,
			ExpressionAttributeValues: values,
		})
		return err
	}

	item, err := s.item(rec.Sender, tail)
	if err != nil {
		return err
	}
	_, err = s.client.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.client.tableName),
		Item:                      item,
		ConditionExpression:       cond,
		ExpressionAttributeValues: values,
	})
	return err
}

func (s *ChunkStore) item(sender string, chunks []string) (map[string]types.AttributeValue, error) {
	raw, err := json.Marshal(chunks)
	if err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	return map[string]types.AttributeValue{
		"PK":     &types.AttributeValueMemberS{Value: senderPK(sender)},
		"SK":     &types.AttributeValueMemberS{Value: skContinuation},
		"sender": &types.AttributeValueMemberS{Value: sender},
		"chunks": &types.AttributeValueMemberS{Value: string(raw)},
		"rev":    &types.AttributeValueMemberS{Value: s.newRev()},
		"ttl":    numValue(s.client.ttlValue(s.ttl)),
	}, nil
}

// itemToContinuation converts a DynamoDB attribute map to a PendingContinuation.
func itemToContinuation(item map[string]types.AttributeValue) (domain.PendingContinuation, error) {
	sender, err := strAttr(item, "sender")
	if err != nil {
		return domain.PendingContinuation{}, err
	}
	rev, err := strAttr(item, "rev")
	if err != nil {
		return domain.PendingContinuation{}, err
	}
	raw, err := strAttr(item, "chunks")
	if err != nil {
		return domain.PendingContinuation{}, err
	}
	var chunks []string
	if err := json.Unmarshal([]byte(raw), &chunks); err != nil {
		return domain.PendingContinuation{}, fmt.Errorf("repository: decode chunks: %w", err)
	}
	ttl, _ := intAttr(item, "ttl") // allow missing
	return domain.PendingContinuation{Sender: sender, Chunks: chunks, Rev: rev, TTL: ttl}, nil
}
