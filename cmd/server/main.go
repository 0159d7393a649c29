package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/api"
	"github.com/mbs-selection-server/internal/config"
	"github.com/mbs-selection-server/internal/domain"
	"github.com/mbs-selection-server/internal/service"
	"github.com/mbs-selection-server/internal/store"
	"github.com/mbs-selection-server/pkg/analysis"
)

func main() {
	// Load configuration
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	logger := newLogger(cfg.Logging)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := openKV(cfg.Storage)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage backend")
	}
	defer kv.Close()

	presets, err := store.NewPresetStore(ctx, kv, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load presets")
	}

	history, err := store.NewHistoryStore(ctx, kv, cfg.Selection.HistoryLimit, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load history")
	}

	client, err := analysis.NewClient(analysis.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Timeout:   cfg.Backend.Timeout,
		RateLimit: cfg.Backend.RateLimit,
		CacheSize: cfg.Backend.CacheSize,
		CacheTTL:  cfg.Backend.CacheTTL,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create analysis client")
	}

	sessions := api.NewSessionManager(service.EngineConfig{MaxCodes: cfg.Selection.MaxCodes}, client, history, logger)
	advisor := service.NewAdvisor(nil, logger)

	server := api.NewServer(cfg, sessions, advisor, presets, history, logger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	logger.WithFields(logrus.Fields{
		"host":    cfg.Server.Host,
		"port":    cfg.Server.Port,
		"storage": cfg.Storage.Driver,
	}).Info("Starting MBS selection server")

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// openKV constructs the configured persistence backend.
func openKV(cfg domain.StorageConfig) (store.KV, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return store.NewMemoryKV(), nil
	case "postgres":
		return store.NewPostgresKVFromURL(cfg.PostgresURL)
	case "redis":
		return store.NewRedisKV(cfg.RedisURL, cfg.KeyPrefix)
	default:
		return store.NewSQLiteKV(cfg.SQLitePath)
	}
}

func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
