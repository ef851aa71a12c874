// Command sync-message handles the API Gateway websocket default
// route: a binary document update arrives from one connection, is
// appended to the update log, and is fanned out to the document's
// other connections.
package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"boardsync/domain/crdt"
	"boardsync/infrastructure/config"
	"boardsync/infrastructure/persistence/dynamodb"
	"boardsync/infrastructure/transport/apigw"
)

var (
	cfg       *config.Config
	logger    *zap.Logger
	store     *dynamodb.UpdateStore
	publisher *apigw.Publisher
)

func init() {
	var err error
	cfg, err = config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	logger, err = zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.AWSRegion),
	)
	if err != nil {
		logger.Fatal("Failed to load AWS config", zap.Error(err))
	}

	dynamoClient := awsdynamodb.NewFromConfig(awsCfg)
	apigwClient := apigatewaymanagementapi.NewFromConfig(awsCfg, func(o *apigatewaymanagementapi.Options) {
		o.BaseEndpoint = aws.String(cfg.WebSocketEndpoint)
	})

	store = dynamodb.NewUpdateStore(dynamoClient, cfg.UpdatesTable, logger)
	publisher = apigw.NewPublisher(dynamoClient, apigwClient, cfg.ConnectionsTable, logger)
}

func handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	docID, err := publisher.DocForConnection(ctx, connectionID)
	if err != nil {
		logger.Warn("message from unknown connection",
			zap.String("connectionID", connectionID), zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusForbidden}, nil
	}

	delta := []byte(req.Body)
	if req.IsBase64Encoded {
		delta, err = base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
		}
	}

	// Reject frames that do not decode before persisting them.
	scratch := crdt.NewDoc(docID)
	if err := scratch.ApplyUpdate(delta); err != nil {
		logger.Warn("dropping malformed update",
			zap.String("docID", docID),
			zap.String("connectionID", connectionID),
			zap.Error(err),
		)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
	}

	if _, err := store.AppendUpdate(ctx, docID, delta); err != nil {
		logger.Error("failed to persist update", zap.String("docID", docID), zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	if err := publisher.PublishExcept(ctx, docID, delta, connectionID); err != nil {
		logger.Error("failed to fan out update", zap.String("docID", docID), zap.Error(err))
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
	}

	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func main() {
	lambda.Start(handle)
}
