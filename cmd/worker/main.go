package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"parentpal/config"
	"parentpal/internal/provider"
	"parentpal/internal/repository"
	"parentpal/internal/worker"
	"parentpal/pkg/db"
	"parentpal/pkg/logger"
	redisclient "parentpal/pkg/redis"
	"parentpal/pkg/util"
)

func main() {
	// Load config
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting reminder worker service...")

	// Init DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	// Init Redis send guard
	rdb := redisclient.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	guard := util.NewDeduper(rdb, time.Hour, log)

	// Init repositories
	eventRepo := repository.NewEventRepository(dbConn)
	reminderRepo := repository.NewReminderRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// Init providers
	push := provider.NewExpoClient(cfg.Expo.AccessToken)
	calendar := provider.NewGoogleCalendarClient(cfg.Google.ClientID, cfg.Google.ClientSecret)

	scheduler := worker.NewScheduler(reminderRepo, userRepo, logger.WithComponent(log, "scheduler"))
	dispatcher := worker.NewDispatcher(
		eventRepo,
		reminderRepo,
		userRepo,
		scheduler,
		push,
		calendar,
		guard,
		logger.WithComponent(log, "dispatcher"),
	)

	// Metrics endpoint
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9092", nil); err != nil {
			log.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Worker started", zap.Duration("interval", interval))

	// One pass immediately, then on every tick.
	dispatcher.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info("Worker stopped")
			return
		case <-ticker.C:
			dispatcher.RunOnce(ctx)
		}
	}
}
