// Package dynamodb persists document update records in a single
// table. Each record is one binary update or snapshot payload:
// PK=DOC#<docID>, SK=UPDATE#<ts>#<id> or SNAPSHOT#<ts>#<id>. Snapshot
// sort keys order before update sort keys, so a plain ascending query
// yields snapshots first, which is the order the document loader
// wants. All client calls run through a circuit breaker.
package dynamodb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/pkg/errors"
)

const (
	docKeyPrefix       = "DOC#"
	updateSortPrefix   = "UPDATE#"
	snapshotSortPrefix = "SNAPSHOT#"
)

// updateRecord is the stored shape of one update or snapshot.
type updateRecord struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	DocID     string `dynamodbav:"DocID"`
	Payload   []byte `dynamodbav:"Payload"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

// UpdateStore implements compaction.Store on DynamoDB.
type UpdateStore struct {
	client    *dynamodb.Client
	tableName string
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	now       func() time.Time
}

// NewUpdateStore creates a store against the given table.
func NewUpdateStore(client *dynamodb.Client, tableName string, logger *zap.Logger) *UpdateStore {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "dynamodb-update-store",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &UpdateStore{
		client:    client,
		tableName: tableName,
		breaker:   breaker,
		logger:    logger,
		now:       time.Now,
	}
}

// ListDocuments scans the table for distinct document ids.
func (s *UpdateStore) ListDocuments(ctx context.Context) ([]string, error) {
	filter := expression.BeginsWith(expression.Name("PK"), docKeyPrefix)
	proj := expression.NamesList(expression.Name("PK"))
	expr, err := expression.NewBuilder().WithFilter(filter).WithProjection(proj).Build()
	if err != nil {
		return nil, errors.NewStorageError("build list expression", err)
	}

	input := &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	seen := map[string]bool{}
	var ids []string
	for {
		result, err := s.execute(func() (any, error) {
			return s.client.Scan(ctx, input)
		})
		if err != nil {
			return nil, errors.NewStorageError("scan documents", err)
		}
		out := result.(*dynamodb.ScanOutput)
		for _, item := range out.Items {
			pk, ok := item["PK"].(*types.AttributeValueMemberS)
			if !ok {
				continue
			}
			docID := strings.TrimPrefix(pk.Value, docKeyPrefix)
			if !seen[docID] {
				seen[docID] = true
				ids = append(ids, docID)
			}
		}
		if out.LastEvaluatedKey == nil {
			return ids, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// LoadUpdates returns a document's records in sort-key order,
// snapshots first.
func (s *UpdateStore) LoadUpdates(ctx context.Context, docID string) ([]compaction.Record, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(docKeyPrefix + docID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, errors.NewStorageError("build query expression", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(s.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	var records []compaction.Record
	for {
		result, err := s.execute(func() (any, error) {
			return s.client.Query(ctx, input)
		})
		if err != nil {
			return nil, errors.NewStorageError("query update records", err)
		}
		out := result.(*dynamodb.QueryOutput)
		for _, item := range out.Items {
			var rec updateRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, errors.NewStorageError("unmarshal update record", err)
			}
			created, err := time.Parse(time.RFC3339Nano, rec.CreatedAt)
			if err != nil {
				return nil, errors.NewStorageError("parse record timestamp", err)
			}
			records = append(records, compaction.Record{
				ID:        rec.SK,
				DocID:     rec.DocID,
				Snapshot:  strings.HasPrefix(rec.SK, snapshotSortPrefix),
				Payload:   rec.Payload,
				CreatedAt: created,
			})
		}
		if out.LastEvaluatedKey == nil {
			return records, nil
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// AppendUpdate persists one raw update. The record id is its sort key.
func (s *UpdateStore) AppendUpdate(ctx context.Context, docID string, payload []byte) (compaction.Record, error) {
	return s.put(ctx, docID, payload, updateSortPrefix)
}

// SaveSnapshot persists a full-state snapshot record.
func (s *UpdateStore) SaveSnapshot(ctx context.Context, docID string, payload []byte) (compaction.Record, error) {
	return s.put(ctx, docID, payload, snapshotSortPrefix)
}

func (s *UpdateStore) put(ctx context.Context, docID string, payload []byte, sortPrefix string) (compaction.Record, error) {
	if len(payload) == 0 {
		return compaction.Record{}, errors.NewValidationError("empty record payload")
	}
	created := s.now().UTC()
	sk := fmt.Sprintf("%s%s#%s", sortPrefix, created.Format(time.RFC3339Nano), uuid.New().String())
	rec := updateRecord{
		PK:        docKeyPrefix + docID,
		SK:        sk,
		DocID:     docID,
		Payload:   payload,
		CreatedAt: created.Format(time.RFC3339Nano),
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return compaction.Record{}, errors.NewStorageError("marshal update record", err)
	}
	_, err = s.execute(func() (any, error) {
		return s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName: aws.String(s.tableName),
			Item:      item,
		})
	})
	if err != nil {
		return compaction.Record{}, errors.NewStorageError("put update record", err)
	}

	return compaction.Record{
		ID:        sk,
		DocID:     docID,
		Snapshot:  sortPrefix == snapshotSortPrefix,
		Payload:   payload,
		CreatedAt: created,
	}, nil
}

// DeleteRecords removes the named records in batches of 25, the
// BatchWriteItem limit.
func (s *UpdateStore) DeleteRecords(ctx context.Context, docID string, ids []string) error {
	requests := make([]types.WriteRequest, 0, len(ids))
	for _, id := range ids {
		requests = append(requests, types.WriteRequest{
			DeleteRequest: &types.DeleteRequest{
				Key: map[string]types.AttributeValue{
					"PK": &types.AttributeValueMemberS{Value: docKeyPrefix + docID},
					"SK": &types.AttributeValueMemberS{Value: id},
				},
			},
		})
	}

	for i := 0; i < len(requests); i += 25 {
		end := i + 25
		if end > len(requests) {
			end = len(requests)
		}
		batch := requests[i:end]
		result, err := s.execute(func() (any, error) {
			return s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{s.tableName: batch},
			})
		})
		if err != nil {
			return errors.NewStorageError("delete update records", err)
		}
		out := result.(*dynamodb.BatchWriteItemOutput)
		if len(out.UnprocessedItems) > 0 {
			return errors.NewStorageError("delete update records",
				fmt.Errorf("%d records unprocessed", len(out.UnprocessedItems[s.tableName])))
		}
	}
	return nil
}

func (s *UpdateStore) execute(fn func() (any, error)) (any, error) {
	result, err := s.breaker.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, errors.NewUnavailableError("dynamodb").WithCause(err)
	}
	return result, err
}
