package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailflow/config"
	"mailflow/internal/api"
	"mailflow/internal/db"
	"mailflow/internal/queue"
	"mailflow/internal/redisclient"
	"mailflow/internal/repository"
	"mailflow/internal/service"
	"mailflow/pkg/logger"
)

func main() {
	log := logger.New()
	defer log.Sync()

	cfg := config.Load()

	pool, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	rdb := redisclient.New(cfg.Redis)
	defer rdb.Close()

	q := queue.New(rdb, log)

	messageRepo := repository.NewMessageRepository(pool)
	batchRepo := repository.NewBatchRepository(pool)
	senderRepo := repository.NewSenderRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	scheduleSvc := service.NewScheduleService(messageRepo, batchRepo, senderRepo, q,
		cfg.Worker, cfg.Scheduler, log)
	emailSvc := service.NewEmailService(messageRepo, batchRepo, q, log)
	senderSvc := service.NewSenderService(senderRepo, messageRepo, log)
	authSvc := service.NewAuthService(userRepo, cfg.OAuth, cfg.JWT, log)

	router := api.NewRouter(api.Handlers{
		Auth:    api.NewAuthHandler(authSvc, cfg.Server.FrontendOrigin, cfg.JWT.ExpiryHours*3600),
		Emails:  api.NewEmailHandler(scheduleSvc, emailSvc, cfg.Scheduler.DefaultDelayMs/1000),
		Senders: api.NewSenderHandler(senderSvc),
	}, cfg.JWT.Secret, cfg.Server.FrontendOrigin)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("API server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}
	log.Info("Server stopped")
}
