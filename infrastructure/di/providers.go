// Package di wires the application together. Providers are plain
// functions so each command binary can assemble exactly the slice of
// the graph it needs.
package di

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"boardsync/application/compaction"
	"boardsync/application/session"
	"boardsync/infrastructure/config"
	"boardsync/infrastructure/messaging/eventbridge"
	"boardsync/infrastructure/persistence/dynamodb"
	"boardsync/infrastructure/persistence/memory"
	"boardsync/infrastructure/transport/ws"
	"boardsync/interfaces/http/rest"
	"boardsync/interfaces/http/rest/handlers"
	"boardsync/pkg/auth"
)

// Container holds all application dependencies.
type Container struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     compaction.Store
	Locker    compaction.Locker
	Reporter  compaction.Reporter
	Registry  *session.Registry
	Hub       *ws.Hub
	WSServer  *ws.Server
	Validator *auth.Validator
	Router    *rest.Router
}

// InitializeContainer creates a fully wired container.
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger, err := ProvideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	store, locker, reporter, err := ProvideCompactionBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := session.NewRegistry(session.RecordLoader{Store: store}, logger)
	hub := ws.NewHub(logger)
	validator := auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer)
	wsServer := ws.NewServer(hub, registry, store, validator, logger)

	adminHandler := handlers.NewAdminHandler(store, locker, reporter, ProvideCompactionOptions(cfg), logger)
	docHandler := handlers.NewDocHandler(registry, store, logger)
	router := rest.NewRouter(validator, adminHandler, docHandler, wsServer.HandleWebSocket, cfg.EnableCORS, logger)

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Locker:    locker,
		Reporter:  reporter,
		Registry:  registry,
		Hub:       hub,
		WSServer:  wsServer,
		Validator: validator,
		Router:    router,
	}, nil
}

// Start runs the background fan-out loop.
func (c *Container) Start() {
	go c.Hub.Run()
}

// Shutdown drains websocket sessions and stops the hub.
func (c *Container) Shutdown(ctx context.Context) error {
	err := c.WSServer.Shutdown(ctx)
	c.Hub.Stop()
	// Sync to stderr fails on some platforms; not worth surfacing.
	_ = c.Logger.Sync()
	return err
}

// ProvideLogger creates a logger for the configured environment.
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Environment == "production" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
		}
		zapCfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zapCfg.Build()
}

// ProvideAWSConfig creates AWS configuration.
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.AWSRegion),
	)
}

// ProvideCompactionOptions maps configuration onto compaction
// options.
func ProvideCompactionOptions(cfg *config.Config) compaction.Options {
	return compaction.Options{
		Threshold: cfg.CompactionThreshold,
		KeepLast:  cfg.CompactionKeepLast,
		MinAge:    cfg.CompactionMinAge,
	}
}

// ProvideCompactionBackend builds the update store, compaction lock
// and completion reporter for the configured storage driver.
func ProvideCompactionBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (compaction.Store, compaction.Locker, compaction.Reporter, error) {
	var (
		store  compaction.Store
		locker compaction.Locker
	)

	needsAWS := cfg.StorageDriver == "dynamodb" || cfg.EventBusName != ""
	var awsCfg aws.Config
	if needsAWS {
		var err error
		awsCfg, err = ProvideAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
	}

	switch cfg.StorageDriver {
	case "dynamodb":
		client := awsdynamodb.NewFromConfig(awsCfg)
		store = dynamodb.NewUpdateStore(client, cfg.UpdatesTable, logger)
		locker = dynamodb.NewCompactionLock(client, cfg.LockTable, cfg.CompactionLockTTL, logger)
	default:
		store = memory.NewUpdateStore()
		locker = memory.NewCompactionLock(cfg.CompactionLockTTL)
	}

	var reporter compaction.Reporter
	if cfg.EventBusName != "" {
		client := awseventbridge.NewFromConfig(awsCfg)
		reporter = eventbridge.NewPublisher(client, cfg.EventBusName, logger)
	} else {
		reporter = logReporter{logger: logger}
	}

	return store, locker, reporter, nil
}

// logReporter logs compaction summaries when no event bus is
// configured.
type logReporter struct {
	logger *zap.Logger
}

func (r logReporter) CompactionCompleted(ctx context.Context, summary compaction.Summary) error {
	r.logger.Info("compaction completed",
		zap.Int("docsProcessed", summary.DocsProcessed),
		zap.Int("docsCompacted", summary.DocsCompacted),
		zap.Duration("duration", summary.Duration),
		zap.Strings("errors", summary.Errors),
	)
	return nil
}

// Handler returns the assembled HTTP handler tree.
func (c *Container) Handler() http.Handler {
	return c.Router.Setup()
}
