package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"order-automation-go/internal/api"
	"order-automation-go/internal/automation"
	"order-automation-go/internal/config"
	"order-automation-go/internal/database"
	"order-automation-go/internal/logger"
	"order-automation-go/internal/repository"
	"order-automation-go/internal/runtime"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	repo, closer, err := openRepository(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open order repository", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}
	defer closer.Close()

	var rt runtime.Client
	if cfg.FlowRuntime.BaseURL != "" {
		rt = runtime.NewHTTPClient(&cfg.FlowRuntime, log)
	} else {
		rt = runtime.NewLocalRegistry(log)
		log.Info("No flow runtime configured, flows are kept in process")
	}

	orders := automation.NewOrderTemplates(log, cfg.Engine, repo, rt)
	server := api.NewServer(cfg.Server, automation.NewActions(orders), log)
	server.Start()

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
	<-sigchan
	log.Info("Shutdown signal received, gracefully shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Order engine has been shut down.")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openRepository(cfg config.Database, log *zap.Logger) (repository.Repository, io.Closer, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn("Using in-memory order table, orders are lost on restart")
		return repository.NewMemoryRepository(), nopCloser{}, nil
	case "sqlite", "":
		db, err := database.NewDatabase(cfg.DSN, log)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, err
		}
		return repository.NewGormRepository(db), sqlDB, nil
	case "pebble":
		repo, err := repository.OpenPebbleRepository(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Pebble order store opened", zap.String("path", cfg.Path))
		return repo, repo, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}
