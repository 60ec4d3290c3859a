package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"qa-pipeline/internal/app"
	"qa-pipeline/internal/config"
	"qa-pipeline/internal/integrations/paramstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("local server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AWS is optional locally: it is only needed for Bedrock or SSM.
	var (
		awsCfg aws.Config
		params paramstore.Getter
	)
	if cfg.GenerationBackend == "bedrock" || cfg.ParamPrefix != "" {
		c, err := app.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return err
		}
		awsCfg = c
		if cfg.ParamPrefix != "" {
			ps, err := app.NewParamStore(awsCfg)
			if err != nil {
				return err
			}
			params = ps
		}
	}

	text, err := app.NewTextGenerator(ctx, cfg, awsCfg, params)
	if err != nil {
		return err
	}
	db, sessions, err := app.OpenLocalDB(ctx, cfg)
	if err != nil {
		return err
	}
	kb, err := app.NewKnowledgeBase(cfg, awsCfg, sessions, logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	registry, err := app.NewRegistry(cfg, text, kb, logger)
	if err != nil {
		_ = db.Close()
		return err
	}

	local, err := app.NewLocal(ctx, cfg, db, registry, app.AdminAuth(cfg, params), logger)
	if err != nil {
		_ = db.Close()
		return err
	}
	local.Start()
	defer func() {
		if err := local.Close(); err != nil {
			logger.Error("shutdown failed", "err", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           local.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr, "backend", cfg.GenerationBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
