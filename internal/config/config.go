package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"golang.org/x/crypto/bcrypt"
)

// DefaultJWTSecret is the placeholder secret shipped in defaults. It is rejected in production.
const DefaultJWTSecret = "change-me-in-production"

const (
	StorageDynamoDB = "dynamodb"
	StorageMemory   = "memory"
)

type Config struct {
	Server        ServerConfig        `envconfig:"SERVER"`
	Redis         RedisConfig         `envconfig:"REDIS"`
	JWT           JWTConfig           `envconfig:"JWT"`
	Auth          AuthConfig          `envconfig:"AUTH"`
	Storage       StorageConfig       `envconfig:"STORAGE"`
	DynamoDB      DynamoDBConfig      `envconfig:"DYNAMODB"`
	Observability ObservabilityConfig `envconfig:"OBSERVABILITY"`
	CORS          CORSConfig          `envconfig:"CORS"`
	Log           LogConfig           `envconfig:"LOG"`
	AWS           AWSConfig           `envconfig:"AWS"`
}

type AWSConfig struct {
	Region  string `envconfig:"REGION" default:"ap-northeast-2"`
	Profile string `envconfig:"PROFILE" default:""`
}

type ServerConfig struct {
	Port         string        `envconfig:"PORT" default:"8000"`
	Environment  string        `envconfig:"ENVIRONMENT" default:"development"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"IDLE_TIMEOUT" default:"120s"`
}

type RedisConfig struct {
	Enabled             bool          `envconfig:"ENABLED" default:"true"`
	Address             string        `envconfig:"ADDRESS" default:"localhost:6379"`
	Password            string        `envconfig:"PASSWORD" default:""`
	Database            int           `envconfig:"DATABASE" default:"0"`
	MaxRetries          int           `envconfig:"MAX_RETRIES" default:"3"`
	PoolSize            int           `envconfig:"POOL_SIZE" default:"100"`
	PoolTimeout         time.Duration `envconfig:"POOL_TIMEOUT" default:"4s"`
	TLSEnabled          bool          `envconfig:"TLS_ENABLED" default:"false"`
	PasswordFromSecrets bool          `envconfig:"PASSWORD_FROM_SECRETS" default:"false"`
	SecretName          string        `envconfig:"SECRET_NAME" default:""`
	ClusterMode         bool          `envconfig:"CLUSTER_MODE" default:"false"`
	IdempotencyTTL      time.Duration `envconfig:"IDEMPOTENCY_TTL" default:"5m"`
}

type JWTConfig struct {
	Secret            string        `envconfig:"SECRET" default:"change-me-in-production"`
	SecretFromSecrets bool          `envconfig:"SECRET_FROM_SECRETS" default:"false"`
	SecretName        string        `envconfig:"SECRET_NAME" default:""`
	TTL               time.Duration `envconfig:"TTL" default:"20m"`
}

type AuthConfig struct {
	BcryptCost int `envconfig:"BCRYPT_COST" default:"10"`
}

type StorageConfig struct {
	Driver string `envconfig:"DRIVER" default:"dynamodb"`
}

type DynamoDBConfig struct {
	UsersTableName    string        `envconfig:"USERS_TABLE_NAME" default:"todo-api-users"`
	TodosTableName    string        `envconfig:"TODOS_TABLE_NAME" default:"todo-api-todos"`
	UniquesTableName  string        `envconfig:"UNIQUES_TABLE_NAME" default:"todo-api-uniques"`
	CountersTableName string        `envconfig:"COUNTERS_TABLE_NAME" default:"todo-api-counters"`
	Region            string        `envconfig:"REGION" default:"ap-northeast-2"`
	Endpoint          string        `envconfig:"ENDPOINT" default:""`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"3s"`
}

type ObservabilityConfig struct {
	MetricsPath    string  `envconfig:"METRICS_PATH" default:"/metrics"`
	OTLPEndpoint   string  `envconfig:"OTLP_ENDPOINT" default:"http://localhost:4318"`
	TraceExporter  string  `envconfig:"TRACE_EXPORTER" default:"otlp"` // otlp or stdout
	TracingEnabled bool    `envconfig:"TRACING_ENABLED" default:"false"`
	SampleRate     float64 `envconfig:"SAMPLE_RATE" default:"0.1"`
}

type CORSConfig struct {
	AllowOrigins string `envconfig:"ALLOW_ORIGINS" default:"*"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

// IsProduction reports whether the service runs with production safeguards.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, "production")
}

func Load() (*Config, error) {
	// .env is optional; real environment variables always win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid server port: %s", cfg.Server.Port)
	}

	if cfg.Observability.SampleRate < 0 || cfg.Observability.SampleRate > 1 {
		return fmt.Errorf("invalid tracing sample rate: %f", cfg.Observability.SampleRate)
	}

	switch cfg.Observability.TraceExporter {
	case "otlp", "stdout":
	default:
		return fmt.Errorf("invalid trace exporter: %s", cfg.Observability.TraceExporter)
	}

	if cfg.JWT.TTL <= 0 {
		return fmt.Errorf("invalid token ttl: %s", cfg.JWT.TTL)
	}

	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("invalid bcrypt cost: %d", cfg.Auth.BcryptCost)
	}

	switch cfg.Storage.Driver {
	case StorageDynamoDB, StorageMemory:
	default:
		return fmt.Errorf("invalid storage driver: %s", cfg.Storage.Driver)
	}

	if cfg.DynamoDB.Timeout <= 0 {
		return fmt.Errorf("invalid dynamodb timeout: %s", cfg.DynamoDB.Timeout)
	}

	if cfg.JWT.SecretFromSecrets && cfg.JWT.SecretName == "" {
		return fmt.Errorf("JWT_SECRET_NAME is required when JWT_SECRET_FROM_SECRETS is set")
	}

	if cfg.Redis.PasswordFromSecrets && cfg.Redis.SecretName == "" {
		return fmt.Errorf("REDIS_SECRET_NAME is required when REDIS_PASSWORD_FROM_SECRETS is set")
	}

	// A secret fetched later from Secrets Manager replaces the default, so only static config is checked here
	if cfg.IsProduction() && !cfg.JWT.SecretFromSecrets && cfg.JWT.Secret == DefaultJWTSecret {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}

	return nil
}
