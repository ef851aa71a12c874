// Command compactor folds accumulated document updates into
// snapshots. It runs either as a one-shot process or, behind an
// EventBridge schedule, as a Lambda handler.
package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/infrastructure/config"
	"boardsync/infrastructure/di"
)

func main() {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := di.ProvideLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	store, locker, reporter, err := di.ProvideCompactionBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build compaction backend", zap.Error(err))
	}

	compactor, err := compaction.New(store, locker, reporter, di.ProvideCompactionOptions(cfg), logger)
	if err != nil {
		logger.Fatal("Invalid compaction options", zap.Error(err))
	}

	if cfg.IsLambda {
		lambda.Start(func(ctx context.Context, event events.CloudWatchEvent) error {
			logger.Info("scheduled compaction triggered",
				zap.String("source", event.Source),
				zap.String("detailType", event.DetailType),
			)
			_, err := compactor.Run(ctx)
			return err
		})
		return
	}

	summary, err := compactor.Run(ctx)
	if err != nil {
		logger.Fatal("Compaction run failed", zap.Error(err))
	}
	logger.Info("compaction finished",
		zap.Int("docsProcessed", summary.DocsProcessed),
		zap.Int("docsCompacted", summary.DocsCompacted),
		zap.Duration("duration", summary.Duration),
		zap.Int("errors", len(summary.Errors)),
	)
}
