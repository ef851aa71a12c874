// Package apigw publishes document updates through the API Gateway
// Management API for the serverless deployment shape, where peers are
// API Gateway websocket connections tracked in a DynamoDB table
// instead of in-process hub rooms.
package apigw

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	apigwtypes "github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"boardsync/pkg/errors"
)

const (
	connKeyPrefix    = "DOCCONN#"
	reverseKeyPrefix = "CONN#"
)

// Publisher fans binary updates out to a document's registered
// connections. Gone connections are pruned as they are discovered.
type Publisher struct {
	dynamo    *dynamodb.Client
	apigw     *apigatewaymanagementapi.Client
	tableName string
	logger    *zap.Logger
}

// NewPublisher creates a publisher against the connections table.
func NewPublisher(dynamo *dynamodb.Client, apigw *apigatewaymanagementapi.Client, tableName string, logger *zap.Logger) *Publisher {
	return &Publisher{
		dynamo:    dynamo,
		apigw:     apigw,
		tableName: tableName,
		logger:    logger,
	}
}

// Register records a connection as a member of a document's room.
// Called from the $connect route handler. A reverse row keyed by the
// connection id makes $disconnect resolvable without query params.
func (p *Publisher) Register(ctx context.Context, docID, connectionID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := p.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item: map[string]types.AttributeValue{
			"PK":           &types.AttributeValueMemberS{Value: connKeyPrefix + docID},
			"SK":           &types.AttributeValueMemberS{Value: "CONNECTION#" + connectionID},
			"ConnectionID": &types.AttributeValueMemberS{Value: connectionID},
			"DocID":        &types.AttributeValueMemberS{Value: docID},
			"ConnectedAt":  &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return errors.NewStorageError("register connection", err)
	}

	_, err = p.dynamo.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(p.tableName),
		Item: map[string]types.AttributeValue{
			"PK":          &types.AttributeValueMemberS{Value: reverseKeyPrefix + connectionID},
			"SK":          &types.AttributeValueMemberS{Value: "DOC"},
			"DocID":       &types.AttributeValueMemberS{Value: docID},
			"ConnectedAt": &types.AttributeValueMemberS{Value: now},
		},
	})
	if err != nil {
		return errors.NewStorageError("register connection reverse row", err)
	}
	return nil
}

// DocForConnection resolves which document a connection joined.
func (p *Publisher) DocForConnection(ctx context.Context, connectionID string) (string, error) {
	out, err := p.dynamo.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: reverseKeyPrefix + connectionID},
			"SK": &types.AttributeValueMemberS{Value: "DOC"},
		},
	})
	if err != nil {
		return "", errors.NewStorageError("resolve connection document", err)
	}
	if out.Item == nil {
		return "", errors.NewNotFoundError("connection")
	}
	docID, ok := out.Item["DocID"].(*types.AttributeValueMemberS)
	if !ok {
		return "", errors.NewNotFoundError("connection")
	}
	return docID.Value, nil
}

// Disconnect removes a connection given only its id, as delivered by
// the $disconnect route. An unknown connection is not an error.
func (p *Publisher) Disconnect(ctx context.Context, connectionID string) error {
	docID, err := p.DocForConnection(ctx, connectionID)
	if err != nil {
		if errors.IsType(err, errors.ErrorTypeNotFound) {
			return nil
		}
		return err
	}
	return p.Unregister(ctx, docID, connectionID)
}

// Unregister drops a connection from a document's room. Called from
// the $disconnect route handler; removing an absent row is fine.
func (p *Publisher) Unregister(ctx context.Context, docID, connectionID string) error {
	_, err := p.dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: connKeyPrefix + docID},
			"SK": &types.AttributeValueMemberS{Value: "CONNECTION#" + connectionID},
		},
	})
	if err != nil {
		return errors.NewStorageError("unregister connection", err)
	}

	_, err = p.dynamo.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(p.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: reverseKeyPrefix + connectionID},
			"SK": &types.AttributeValueMemberS{Value: "DOC"},
		},
	})
	if err != nil {
		return errors.NewStorageError("unregister connection reverse row", err)
	}
	return nil
}

// Publish sends the update to every connection in the document's
// room. A gone connection is pruned and not counted as a failure; the
// call fails only when every live send failed.
func (p *Publisher) Publish(ctx context.Context, docID string, delta []byte) error {
	return p.PublishExcept(ctx, docID, delta, "")
}

// PublishExcept is Publish with the originating connection skipped,
// so a client does not receive its own update back.
func (p *Publisher) PublishExcept(ctx context.Context, docID string, delta []byte, exclude string) error {
	connectionIDs, err := p.connections(ctx, docID)
	if err != nil {
		return err
	}
	if len(connectionIDs) == 0 {
		return nil
	}

	var sent, failed int
	for _, connectionID := range connectionIDs {
		if connectionID == exclude {
			continue
		}
		_, err := p.apigw.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
			ConnectionId: aws.String(connectionID),
			Data:         delta,
		})
		if err != nil {
			var gone *apigwtypes.GoneException
			if stderrors.As(err, &gone) {
				p.prune(ctx, docID, connectionID)
				continue
			}
			failed++
			p.logger.Warn("failed to post to connection",
				zap.String("docID", docID),
				zap.String("connectionID", connectionID),
				zap.Error(err),
			)
			continue
		}
		sent++
	}

	if failed > 0 && sent == 0 {
		return errors.NewTransportError(
			fmt.Sprintf("all %d sends failed for document %s", failed, docID), nil)
	}
	return nil
}

func (p *Publisher) connections(ctx context.Context, docID string) ([]string, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(connKeyPrefix + docID))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, errors.NewStorageError("build connections query", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(p.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	var ids []string
	paginator := dynamodb.NewQueryPaginator(p.dynamo, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.NewStorageError("query connections", err)
		}
		for _, item := range page.Items {
			if connID, ok := item["ConnectionID"].(*types.AttributeValueMemberS); ok {
				ids = append(ids, connID.Value)
			}
		}
	}
	return ids, nil
}

func (p *Publisher) prune(ctx context.Context, docID, connectionID string) {
	if err := p.Unregister(ctx, docID, connectionID); err != nil {
		p.logger.Warn("failed to prune gone connection",
			zap.String("connectionID", connectionID),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("pruned gone connection",
		zap.String("docID", docID),
		zap.String("connectionID", connectionID),
	)
}
