package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"qa-pipeline/handler"
	"qa-pipeline/internal/app"
	"qa-pipeline/internal/config"
	"qa-pipeline/internal/queue"
	"qa-pipeline/internal/repository"
	"qa-pipeline/internal/strategy"
	"qa-pipeline/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration (read only here) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)
	if err := cfg.Require("QUEUE_URL", "TABLE_NAME"); err != nil {
		fail(logger, "invalid configuration", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := app.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fail(logger, "failed to load AWS config", err)
	}

	// ---- Clients ----
	params, err := app.NewParamStore(awsCfg)
	if err != nil {
		fail(logger, "failed to create SSM client", err)
	}
	q, err := queue.NewSQS(awssqs.NewFromConfig(awsCfg), cfg.QueueURL, queue.WithDeadLetterQueue(cfg.DLQURL))
	if err != nil {
		fail(logger, "failed to create queue client", err)
	}
	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.TableName, repository.WithUserIndex(cfg.UserIndexName))
	if err != nil {
		fail(logger, "failed to create answer store", err)
	}

	// The API only validates topics; the worker owns the strategies.
	topics := usecase.NewAllowedTopics(strategy.DefaultTopics()...)

	// ---- Handler ----
	submit, err := usecase.NewSubmitService(q, topics, cfg.MaxQuestionLength, usecase.WithSubmitLogger(logger))
	if err != nil {
		fail(logger, "failed to create submit service", err)
	}
	retrieval, err := usecase.NewRetrievalService(store, q, app.AdminAuth(cfg, params), logger)
	if err != nil {
		fail(logger, "failed to create retrieval service", err)
	}
	h, err := handler.NewHandler(submit, retrieval, logger)
	if err != nil {
		fail(logger, "failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fail(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
