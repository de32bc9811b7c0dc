package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/garnizeh/mar/api"
	"github.com/garnizeh/mar/internal/app"
	"github.com/garnizeh/mar/internal/config"
	"github.com/garnizeh/mar/pkg/webhook"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	var configPath = flag.String("config", "", "Path to config YAML file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.Any("err", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	api.SetLogger(logger)
	webhook.SetLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("server exited")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting MAR server", slog.String("version", version), slog.String("build_time", buildTime))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := app.OpenDB(ctx, cfg, cfg.MigrateOnStart, logger)
	if err != nil {
		return err
	}
	a, err := app.New(cfg, conn, logger)
	if err != nil {
		conn.Close()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error closing resources", slog.Any("err", err))
		}
	}()

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      api.SetupRoutes(a, version, buildTime),
		ReadTimeout:  cfg.APITimeout,
		WriteTimeout: cfg.APITimeout + cfg.Webhook.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	pool := a.WorkerPool()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", slog.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pool.Start(gctx)
		<-gctx.Done()
		pool.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")

		// Give outstanding requests 30 seconds to complete
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
