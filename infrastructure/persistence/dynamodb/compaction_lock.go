package dynamodb

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/pkg/errors"
)

const compactionLockPrefix = "COMPACT#"

// CompactionLock keeps concurrent compactor runs off the same
// document using DynamoDB conditional writes. Locks carry an expiry
// so a crashed run cannot wedge a document forever.
type CompactionLock struct {
	client    *dynamodb.Client
	tableName string
	owner     string
	duration  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewCompactionLock creates a lock manager with a per-process owner id.
func NewCompactionLock(client *dynamodb.Client, tableName string, duration time.Duration, logger *zap.Logger) *CompactionLock {
	return &CompactionLock{
		client:    client,
		tableName: tableName,
		owner:     uuid.New().String(),
		duration:  duration,
		logger:    logger,
		now:       time.Now,
	}
}

// Acquire takes the per-document lock, or returns
// compaction.ErrLockHeld when another run owns it. The returned
// release func deletes the lock; releasing a lock that already
// expired and was reclaimed is a no-op.
func (l *CompactionLock) Acquire(ctx context.Context, docID string) (func(), error) {
	lockID := uuid.New().String()
	now := l.now().UTC()
	expiresAt := now.Add(l.duration)

	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: compactionLockPrefix + docID},
		"SK":        &types.AttributeValueMemberS{Value: "LOCK"},
		"LockID":    &types.AttributeValueMemberS{Value: lockID},
		"Owner":     &types.AttributeValueMemberS{Value: l.owner},
		"ExpiresAt": &types.AttributeValueMemberS{Value: expiresAt.Format(time.RFC3339Nano)},
		"TTL":       &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt.Unix())},
	}

	_, err := l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339Nano)},
		},
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if stderrors.As(err, &conditionFailed) {
			return nil, compaction.ErrLockHeld
		}
		return nil, errors.NewStorageError("acquire compaction lock", err)
	}

	release := func() {
		_, err := l.client.DeleteItem(context.Background(), &dynamodb.DeleteItemInput{
			TableName: aws.String(l.tableName),
			Key: map[string]types.AttributeValue{
				"PK": &types.AttributeValueMemberS{Value: compactionLockPrefix + docID},
				"SK": &types.AttributeValueMemberS{Value: "LOCK"},
			},
			ConditionExpression: aws.String("LockID = :lockId"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":lockId": &types.AttributeValueMemberS{Value: lockID},
			},
		})
		if err != nil {
			var conditionFailed *types.ConditionalCheckFailedException
			if stderrors.As(err, &conditionFailed) {
				return
			}
			l.logger.Warn("failed to release compaction lock",
				zap.String("docID", docID),
				zap.Error(err),
			)
		}
	}
	return release, nil
}
