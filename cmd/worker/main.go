package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"qa-pipeline/internal/app"
	"qa-pipeline/internal/config"
	"qa-pipeline/internal/dispatch"
	"qa-pipeline/internal/repository"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)
	if err := cfg.Require("TABLE_NAME"); err != nil {
		fail(logger, "invalid configuration", err)
	}

	awsCfg, err := app.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fail(logger, "failed to load AWS config", err)
	}
	params, err := app.NewParamStore(awsCfg)
	if err != nil {
		fail(logger, "failed to create SSM client", err)
	}

	text, err := app.NewTextGenerator(ctx, cfg, awsCfg, params)
	if err != nil {
		fail(logger, "failed to create text generator", err)
	}
	sessions, err := app.NewSessionStore(cfg, awsCfg)
	if err != nil {
		fail(logger, "failed to create session store", err)
	}
	kb, err := app.NewKnowledgeBase(cfg, awsCfg, sessions, logger)
	if err != nil {
		fail(logger, "failed to create knowledge base client", err)
	}
	registry, err := app.NewRegistry(cfg, text, kb, logger)
	if err != nil {
		fail(logger, "failed to build strategy registry", err)
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName, repository.WithUserIndex(cfg.UserIndexName))
	if err != nil {
		fail(logger, "failed to create answer store", err)
	}
	d, err := dispatch.New(registry, store, dispatch.WithLogger(logger))
	if err != nil {
		fail(logger, "failed to create dispatcher", err)
	}

	logger.Info("worker ready", "backend", cfg.GenerationBackend, "topics", registry.Topics())
	lambda.Start(d.HandleSQS)
}

func fail(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
