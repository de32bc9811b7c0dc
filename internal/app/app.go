// Package app wires repositories and services from a loaded configuration.
// The server and the operator CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	dbfs "github.com/garnizeh/mar/db"
	"github.com/garnizeh/mar/internal/completion"
	"github.com/garnizeh/mar/internal/config"
	"github.com/garnizeh/mar/internal/db"
	"github.com/garnizeh/mar/internal/delivery"
	"github.com/garnizeh/mar/internal/diagnostics"
	"github.com/garnizeh/mar/internal/jobs"
	"github.com/garnizeh/mar/internal/quiz"
	"github.com/garnizeh/mar/internal/ratelimit"
	"github.com/garnizeh/mar/internal/repository/sqlite"
	"github.com/garnizeh/mar/internal/schema"
	"github.com/garnizeh/mar/pkg/repository"
	"github.com/garnizeh/mar/pkg/webhook"
)

type App struct {
	Config       *config.Config
	DB           *db.DB
	Repo         *repository.Repository
	Schemas      *schema.Loader
	Webhook      *webhook.Client
	Quiz         *quiz.Service
	Validator    *quiz.Validator
	Delivery     *delivery.Service
	Orchestrator *completion.Orchestrator
	Limiter      *ratelimit.Limiter
	Logger       *slog.Logger
}

// OpenDB opens the configured database and, when migrate is set, applies
// migrations and seeds.
func OpenDB(ctx context.Context, cfg *config.Config, migrate bool, logger *slog.Logger) (*db.DB, error) {
	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := db.Migrate(ctx, conn, dbfs.Migrations, dbfs.SeedFiles); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return conn, nil
}

// New builds every service on top of conn. The App owns conn afterwards.
func New(cfg *config.Config, conn *db.DB, logger *slog.Logger) (*App, error) {
	if cfg == nil || conn == nil {
		return nil, errors.New("app: config and database are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	repo := sqlite.New(conn, logger.With(slog.String("component", "repository"))).Repository()

	schemas, err := schema.Default()
	if err != nil {
		return nil, fmt.Errorf("load schemas: %w", err)
	}

	client := webhook.NewDefaultClient(webhook.Config{
		UserAgent:               cfg.Webhook.UserAgent,
		Timeout:                 cfg.Webhook.Timeout,
		CircuitFailureThreshold: cfg.Webhook.CircuitFailureThreshold,
		CircuitReset:            cfg.Webhook.CircuitReset,
	})

	deliverySvc, err := delivery.New(repo, client, delivery.Options{
		FallbackURL: cfg.Webhook.FallbackURL,
		Origem:      cfg.Webhook.Origin,
		Schemas:     schemas,
	}, logger.With(slog.String("component", "delivery")))
	if err != nil {
		client.Close()
		return nil, err
	}

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.RateLimit.Store == "sql" {
		store = ratelimit.NewSQLStore(repo.RateLimits)
	}
	limiter, err := ratelimit.New(store, cfg.RateLimit.Requests, cfg.RateLimit.Window, logger.With(slog.String("component", "ratelimit")))
	if err != nil {
		client.Close()
		return nil, err
	}

	quizSvc := quiz.NewService(repo, logger.With(slog.String("component", "quiz")))
	validator := quiz.NewValidator(repo.Quiz, repo.Submissions, repo.Answers)
	orchestrator := completion.NewOrchestrator(repo.Submissions, validator, quizSvc, deliverySvc, logger.With(slog.String("component", "completion")))

	return &App{
		Config:       cfg,
		DB:           conn,
		Repo:         repo,
		Schemas:      schemas,
		Webhook:      client,
		Quiz:         quizSvc,
		Validator:    validator,
		Delivery:     deliverySvc,
		Orchestrator: orchestrator,
		Limiter:      limiter,
		Logger:       logger,
	}, nil
}

// WorkerPool returns a pool that runs webhook delivery jobs.
func (a *App) WorkerPool() *jobs.WorkerPool {
	handlers := map[string]jobs.Handler{
		jobs.TypeWebhookDeliver: jobs.DeliverHandler(a.Delivery),
	}
	return jobs.NewWorkerPool(a.Repo.Jobs, handlers, a.Logger.With(slog.String("component", "jobs")), a.Config.Workers.Count)
}

// EnqueuePending queues delivery jobs for completed, undelivered submissions.
func (a *App) EnqueuePending(ctx context.Context, limit int) ([]string, error) {
	return jobs.EnqueuePendingDeliveries(ctx, a.Repo.Submissions, a.Repo.Jobs, limit, a.Config.Workers.MaxAttempts)
}

func (a *App) SystemValidator() *diagnostics.SystemValidator {
	return diagnostics.NewSystemValidator(a.Repo.Maintenance, a.Repo.Config, a.Logger.With(slog.String("component", "diagnostics")))
}

func (a *App) SystemCleaner() *diagnostics.SystemCleaner {
	return diagnostics.NewSystemCleaner(a.Repo.Maintenance, a.Logger.With(slog.String("component", "diagnostics")))
}

// Close releases the webhook client and the database.
func (a *App) Close() error {
	return errors.Join(a.Webhook.Close(), a.DB.Close())
}
