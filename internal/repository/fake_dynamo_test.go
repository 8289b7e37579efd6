package repository

import (
	"context"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

// fakeDynamo is an in-memory table understanding the handful of condition
// expressions the repository issues.
type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue

	getErr   error
	putErr   error
	delErr   error
	queryErr error

	// conflicts forces the next N conditional writes to fail.
	conflicts int
	// afterGet runs once, after the next GetItem has read its result.
	afterGet func()

	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDelInput *dynamodb.DeleteItemInput
	lastQueryIn  *dynamodb.QueryInput
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func sAttr(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return sAttr(item, "PK") + "|" + sAttr(item, "SK")
}

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
}

func (f *fakeDynamo) check(cond *string, values map[string]types.AttributeValue, existing map[string]types.AttributeValue) error {
	if cond == nil {
		return nil
	}
	if f.conflicts > 0 {
		f.conflicts--
		return conditionFailed()
	}
	switch *cond {
	case "rev = :rev":
		if existing == nil || sAttr(existing, "rev") != sAttr(values, ":rev") {
			return conditionFailed()
		}
	case "attribute_not_exists(PK) AND attribute_not_exists(SK)":
		if existing != nil {
			return conditionFailed()
		}
	}
	return nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	if f.getErr != nil {
		return nil, f.getErr
	}
	item := f.items[itemKey(in.Key)]
	if hook := f.afterGet; hook != nil {
		f.afterGet = nil
		hook()
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	if f.putErr != nil {
		return nil, f.putErr
	}
	key := itemKey(in.Item)
	if err := f.check(in.ConditionExpression, in.ExpressionAttributeValues, f.items[key]); err != nil {
		return nil, err
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDelInput = in
	if f.delErr != nil {
		return nil, f.delErr
	}
	key := itemKey(in.Key)
	if err := f.check(in.ConditionExpression, in.ExpressionAttributeValues, f.items[key]); err != nil {
		return nil, err
	}
	delete(f.items, key)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.lastQueryIn = in
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	pk := sAttr(in.ExpressionAttributeValues, ":pk")
	prefix := sAttr(in.ExpressionAttributeValues, ":prefix")

	var items []map[string]types.AttributeValue
	for _, item := range f.items {
		if sAttr(item, "PK") == pk && strings.HasPrefix(sAttr(item, "SK"), prefix) {
			items = append(items, item)
		}
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(items, func(i, j int) bool {
		if forward {
			return sAttr(items[i], "SK") < sAttr(items[j], "SK")
		}
		return sAttr(items[i], "SK") > sAttr(items[j], "SK")
	})
	if in.Limit != nil && int(*in.Limit) < len(items) {
		items = items[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: items}, nil
}

// steppingClock returns a clock that advances one second per call.
func steppingClock() func() time.Time {
	t := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func mustNewClient(t *testing.T, db *fakeDynamo) *Client {
	t.Helper()
	c, err := New(db, "test-table")
	require.NoError(t, err)
	c.now = steppingClock()
	return c
}
