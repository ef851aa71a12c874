// Command sync-connect handles the API Gateway websocket $connect
// and $disconnect routes for the serverless deployment shape. It
// authenticates the joining client and tracks room membership in the
// connections table.
package main

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"boardsync/infrastructure/config"
	"boardsync/infrastructure/transport/apigw"
	"boardsync/pkg/auth"
)

var (
	logger    *zap.Logger
	publisher *apigw.Publisher
	validator *auth.Validator
)

func init() {
	cfg, err := config.LoadConfig()
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

	// The management API client is unused on connect/disconnect.
	publisher = apigw.NewPublisher(dynamodb.NewFromConfig(awsCfg), nil, cfg.ConnectionsTable, logger)
	validator = auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
}

func handle(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID

	switch req.RequestContext.RouteKey {
	case "$connect":
		identity, err := validator.Validate(req.QueryStringParameters["token"])
		if err != nil {
			logger.Warn("rejected connection", zap.String("connectionID", connectionID), zap.Error(err))
			return events.APIGatewayProxyResponse{StatusCode: http.StatusUnauthorized}, nil
		}
		docID := req.QueryStringParameters["docID"]
		if docID == "" {
			return events.APIGatewayProxyResponse{StatusCode: http.StatusBadRequest}, nil
		}
		if err := publisher.Register(ctx, docID, connectionID); err != nil {
			logger.Error("failed to register connection", zap.Error(err))
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
		}
		logger.Info("connection joined",
			zap.String("docID", docID),
			zap.String("connectionID", connectionID),
			zap.String("userID", identity.UserID),
		)

	case "$disconnect":
		if err := publisher.Disconnect(ctx, connectionID); err != nil {
			logger.Error("failed to unregister connection", zap.Error(err))
			return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, nil
		}
	}

	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

func main() {
	lambda.Start(handle)
}
