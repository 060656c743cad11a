package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"database/sql"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/utilpilot/utilization-service/internal/cache"
	"github.com/utilpilot/utilization-service/internal/config"
	"github.com/utilpilot/utilization-service/internal/handler"
	"github.com/utilpilot/utilization-service/internal/integrations/plaid"
	"github.com/utilpilot/utilization-service/internal/middleware"
	"github.com/utilpilot/utilization-service/internal/repository"
	"github.com/utilpilot/utilization-service/internal/scheduler"
	"github.com/utilpilot/utilization-service/internal/service"
	"github.com/utilpilot/utilization-service/internal/utils/email"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	// Initialize layers
	repo := repository.NewRepository(db)
	plaidClient := plaid.NewClient(cfg, logger)
	dashCache := cache.NewRedis(cfg.RedisAddr)
	mailer := email.NewSender(cfg, logger)
	svc := service.NewService(repo, plaidClient, dashCache, mailer, logger, cfg)
	h := handler.NewHandler(svc, cfg, logger)

	// Setup router
	limiter := middleware.NewRateLimiter(60, time.Minute)
	defer limiter.Stop()
	r := handler.NewRouter(h, cfg, limiter)

	// Start alert scheduler
	sched := scheduler.NewScheduler(svc, logger)
	if err := sched.Start(cfg.AlertSchedule); err != nil {
		logger.Fatalf("Failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logger.Fatalf("Server failed: %v", err)
	case sig := <-quit:
		logger.Infof("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
	}
}
