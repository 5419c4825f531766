package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"

	_ "github.com/traffic-tacos/todo-api/docs" // Swagger docs
	"github.com/traffic-tacos/todo-api/internal/config"
	"github.com/traffic-tacos/todo-api/internal/logging"
	"github.com/traffic-tacos/todo-api/internal/metrics"
	"github.com/traffic-tacos/todo-api/internal/middleware"
	"github.com/traffic-tacos/todo-api/internal/routes"
	"github.com/traffic-tacos/todo-api/internal/secrets"
	"github.com/traffic-tacos/todo-api/internal/store"
)

// @title Todo API
// @version 1.0
// @description Todo list service with bcrypt accounts and HS256 bearer tokens

// @host localhost:8000
// @BasePath /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg)

	if secrets.Needed(cfg) {
		fetcher, err := secrets.NewFetcher(&cfg.AWS, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Secrets Manager client")
		}
		if err := secrets.Resolve(cfg, fetcher); err != nil {
			logger.WithError(err).Fatal("Failed to resolve secrets")
		}
	}

	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	tracingShutdown, err := middleware.InitTracing(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	st, err := initializeStore(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}

	middlewareManager, err := middleware.NewManager(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize middleware manager")
	}
	defer func() {
		if err := middlewareManager.Close(); err != nil {
			logger.WithError(err).Error("Failed to close middleware resources")
		}
	}()

	app := fiber.New(fiber.Config{
		AppName:      "Todo API",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: middleware.ErrorHandler(logger),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.AllowOrigins,
		AllowMethods: "GET,POST,PUT,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-Request-ID," + middleware.IdempotencyHeader,
		MaxAge:       86400,
	}))
	app.Use(otelfiber.Middleware())

	if !cfg.IsProduction() {
		// pprof at /debug/pprof/
		app.Use(pprof.New())
	}

	routes.Setup(app, cfg, logger, middlewareManager, st)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Gracefully shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":    cfg.Server.Port,
		"storage": cfg.Storage.Driver,
	}).Info("Starting Todo API server")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}

func initializeStore(cfg *config.Config, logger *logrus.Logger) (store.Store, error) {
	if cfg.Storage.Driver == config.StorageMemory {
		logger.Warn("Using in-memory storage, data is lost on restart")
		return store.NewMemoryStore(), nil
	}

	dynamoClient, err := initializeDynamoDB(cfg, logger)
	if err != nil {
		return nil, err
	}

	return store.NewDynamoStore(dynamoClient, store.Tables{
		Users:    cfg.DynamoDB.UsersTableName,
		Todos:    cfg.DynamoDB.TodosTableName,
		Uniques:  cfg.DynamoDB.UniquesTableName,
		Counters: cfg.DynamoDB.CountersTableName,
	}, logger), nil
}

func initializeDynamoDB(cfg *config.Config, logger *logrus.Logger) (*dynamodb.Client, error) {
	ctx := context.Background()

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.DynamoDB.Region),
	}
	if cfg.AWS.Profile != "" {
		// Use specific profile for local development
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	// Without a profile the default chain picks up IRSA via AWS_WEB_IDENTITY_TOKEN_FILE
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	creds, credErr := awsCfg.Credentials.Retrieve(ctx)
	if credErr != nil {
		logger.WithError(credErr).Warn("Failed to retrieve credentials (will retry on first API call)")
	} else {
		logger.WithFields(logrus.Fields{
			"provider":          creds.Source,
			"has_session_token": creds.SessionToken != "",
			"region":            cfg.DynamoDB.Region,
		}).Debug("AWS credentials retrieved")
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDB.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDB.Endpoint)
		}
	})

	logger.WithFields(logrus.Fields{
		"region":   cfg.DynamoDB.Region,
		"endpoint": cfg.DynamoDB.Endpoint,
		"tables": []string{
			cfg.DynamoDB.UsersTableName,
			cfg.DynamoDB.TodosTableName,
			cfg.DynamoDB.UniquesTableName,
			cfg.DynamoDB.CountersTableName,
		},
	}).Info("DynamoDB client initialized")

	return dynamoClient, nil
}
