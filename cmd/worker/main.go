package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mailflow/config"
	"mailflow/internal/db"
	"mailflow/internal/mq"
	"mailflow/internal/queue"
	"mailflow/internal/ratelimit"
	"mailflow/internal/redisclient"
	"mailflow/internal/repository"
	"mailflow/internal/transport"
	"mailflow/internal/worker"
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

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to connect to broker", zap.Error(err))
	}
	defer publisher.Close()

	consumer, err := mq.NewConsumer(cfg.MQ.URL, mq.SendQueueName, mq.SendRoutingKey,
		cfg.Worker.Concurrency, log)
	if err != nil {
		log.Fatal("Failed to open consumer channel", zap.Error(err))
	}
	defer consumer.Close()

	messageRepo := repository.NewMessageRepository(pool)
	batchRepo := repository.NewBatchRepository(pool)
	senderRepo := repository.NewSenderRepository(pool)
	rateCounterRepo := repository.NewRateCounterRepository(pool)

	limiter := ratelimit.New(
		ratelimit.NewRedisCounter(rdb),
		messageRepo,
		rateCounterRepo,
		cfg.RateLimit.GlobalHourly,
		cfg.RateLimit.SenderHourly,
		log,
	)

	smtpPool := transport.NewPool(log)
	defer smtpPool.Close()

	processor := worker.NewProcessor(
		messageRepo, batchRepo, senderRepo, limiter, q, smtpPool,
		transport.Settings{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Secure:   cfg.SMTP.Secure,
			Username: cfg.SMTP.User,
			Password: cfg.SMTP.Password,
		},
		cfg.SMTP.User,
		log,
	)
	processor.SetDeadLetterer(publisher)
	consumer.SetHandler(processor.HandleSendJob)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatcher := queue.NewDispatcher(q, publisher, log)
	go dispatcher.Run(ctx)

	// Old durable counter rows are only read within their hour window.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := rateCounterRepo.Prune(ctx, time.Now().Add(-48*time.Hour))
				if err != nil {
					log.Warn("Failed to prune rate counters", zap.Error(err))
				} else if n > 0 {
					log.Info("Pruned rate counters", zap.Int64("rows", n))
				}
			}
		}
	}()

	go func() {
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Fatal("Consumer failed", zap.Error(err))
		}
	}()

	log.Info("Worker running", zap.Int("concurrency", cfg.Worker.Concurrency))
	<-ctx.Done()
	log.Info("Shutting down, draining in-flight sends")

	// Bounded drain: in-flight sends finish, new deliveries stop.
	done := make(chan struct{})
	go func() {
		consumer.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Warn("Drain timed out; unfinished jobs will be redelivered")
	}

	log.Info("Worker stopped")
}
