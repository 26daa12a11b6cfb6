package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"parentpal/config"
	"parentpal/internal/parser"
	"parentpal/internal/repository"
	"parentpal/pkg/db"
	"parentpal/pkg/logger"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting event parser service...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init repositories
	messageRepo := repository.NewMessageRepository(dbConn)
	eventRepo := repository.NewEventRepository(dbConn)
	childRepo := repository.NewChildRepository(dbConn)

	// Init parsing stages
	ollama := parser.NewOllamaClient(cfg.Ollama.URL, cfg.Ollama.Model, cfg.OllamaTimeout())
	extractor := parser.NewPatternExtractor(cfg.Parser.MinConfidence)
	generative := parser.NewGenerativeParser(ollama, cfg.Ollama.PromptFile, logger.WithComponent(log, "generative"))

	coordinator := parser.NewCoordinator(
		messageRepo,
		eventRepo,
		childRepo,
		extractor,
		generative,
		ollama,
		cfg.Parser,
		logger.WithComponent(log, "coordinator"),
	)

	// Metrics endpoint
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9091", nil); err != nil {
			log.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := coordinator.Run(ctx); err != nil {
		if errors.Is(err, parser.ErrServiceUnavailable) {
			log.Fatal("Generation service not available", zap.Error(err))
		}
		if !errors.Is(err, context.Canceled) {
			log.Fatal("Extraction loop failed", zap.Error(err))
		}
	}

	log.Info("Parser stopped")
}
