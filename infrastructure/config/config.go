// Package config loads application configuration from environment
// variables and validates it before anything is wired.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"boardsync/pkg/utils"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	ServerAddress string `validate:"required"`
	Environment   string `validate:"oneof=development staging production"`

	// Storage configuration. Driver "memory" keeps everything
	// in-process for local development.
	StorageDriver string `validate:"oneof=memory dynamodb"`
	AWSRegion     string
	UpdatesTable  string
	LockTable     string
	EventBusName  string

	// Serverless transport configuration
	ConnectionsTable  string
	WebSocketEndpoint string
	IsLambda          bool

	// Compaction configuration
	CompactionThreshold int           `validate:"gte=1"`
	CompactionKeepLast  int           `validate:"gte=0"`
	CompactionMinAge    time.Duration `validate:"gte=0"`
	CompactionLockTTL   time.Duration `validate:"gt=0"`

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Logging
	LogLevel string

	// Feature flags
	EnableCORS bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		StorageDriver: getEnv("STORAGE_DRIVER", "memory"),
		AWSRegion:     getEnv("AWS_REGION", "us-west-2"),
		UpdatesTable:  getEnv("UPDATES_TABLE", "boardsync-updates"),
		LockTable:     getEnv("LOCK_TABLE", "boardsync-locks"),
		EventBusName:  getEnv("EVENT_BUS_NAME", ""),

		ConnectionsTable:  getEnv("CONNECTIONS_TABLE", "boardsync-connections"),
		WebSocketEndpoint: getEnv("WEBSOCKET_ENDPOINT", ""),
		IsLambda:          getEnvBool("IS_LAMBDA", os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != ""),

		CompactionThreshold: getEnvInt("COMPACTION_THRESHOLD", 50),
		CompactionKeepLast:  getEnvInt("COMPACTION_KEEP_LAST", 10),
		CompactionMinAge:    getEnvDuration("COMPACTION_MIN_AGE", time.Minute),
		CompactionLockTTL:   getEnvDuration("COMPACTION_LOCK_TTL", 5*time.Minute),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "boardsync"),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		EnableCORS: getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and production requirements.
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.IsProduction() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if c.StorageDriver != "dynamodb" {
			return fmt.Errorf("STORAGE_DRIVER must be dynamodb in production")
		}
	}
	if c.StorageDriver == "dynamodb" && c.UpdatesTable == "" {
		return fmt.Errorf("UPDATES_TABLE is required with the dynamodb driver")
	}
	return nil
}

// IsDevelopment checks if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
