package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"qa-pipeline/handler"
	"qa-pipeline/internal/config"
	"qa-pipeline/internal/dispatch"
	"qa-pipeline/internal/metrics"
	"qa-pipeline/internal/queue"
	"qa-pipeline/internal/repository"
	"qa-pipeline/internal/sqlitedb"
	"qa-pipeline/internal/strategy"
	"qa-pipeline/internal/usecase"
)

// Local is the single-process pipeline: HTTP API, SQLite queue and store,
// and a worker pool consuming the queue.
type Local struct {
	Handler http.Handler
	Queue   *queue.SQLiteQueue
	Store   *repository.SQLiteStore
	Pool    *dispatch.WorkerPool
	Metrics *metrics.Metrics

	db *sql.DB
}

// OpenLocalDB opens the SQLite database at cfg.SQLitePath together with the
// conversation session table stored in it.
func OpenLocalDB(ctx context.Context, cfg *config.Config) (*sql.DB, *repository.SQLiteSessions, error) {
	db, err := sqlitedb.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	sessions, err := repository.NewSQLiteSessions(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, sessions, nil
}

// NewLocal assembles the local stack over db around registry. The returned
// Local owns db. Call Start to begin consuming and Close to release it.
func NewLocal(ctx context.Context, cfg *config.Config, db *sql.DB, registry *strategy.Registry, auth *usecase.AdminAuth, logger *slog.Logger) (*Local, error) {
	if db == nil {
		return nil, errors.New("app: db must not be nil")
	}
	if registry == nil {
		return nil, errors.New("app: registry must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := metrics.New()

	q, err := queue.NewSQLiteQueue(ctx, db,
		queue.WithVisibilityTimeout(cfg.VisibilityTimeout),
		queue.WithMaxReceiveCount(cfg.MaxReceiveCount),
		queue.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	store, err := repository.NewSQLiteStore(ctx, db)
	if err != nil {
		return nil, err
	}

	submit, err := usecase.NewSubmitService(q, registry, cfg.MaxQuestionLength,
		usecase.WithSubmitMetrics(m), usecase.WithSubmitLogger(logger))
	if err != nil {
		return nil, err
	}
	retrieval, err := usecase.NewRetrievalService(store, q, auth, logger)
	if err != nil {
		return nil, err
	}
	h, err := handler.NewHandler(submit, retrieval, logger)
	if err != nil {
		return nil, err
	}

	d, err := dispatch.New(registry, store, dispatch.WithMetrics(m), dispatch.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	poolCfg := dispatch.DefaultWorkerPoolConfig()
	poolCfg.WorkerCount = cfg.WorkerCount
	poolCfg.PollInterval = cfg.PollInterval
	pool := dispatch.NewWorkerPool(q, d, poolCfg, logger)
	pool.OnQueueDepth(func(s queue.Stats) { m.SetQueueDepth(s.Visible, s.InFlight, s.DeadLetters) })

	return &Local{
		Handler: handler.NewRouter(h, m),
		Queue:   q,
		Store:   store,
		Pool:    pool,
		Metrics: m,
		db:      db,
	}, nil
}

func (l *Local) Start() { l.Pool.Start() }

// Close stops the workers and closes the database.
func (l *Local) Close() error {
	l.Pool.Stop()
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("app: close database: %w", err)
	}
	return nil
}
