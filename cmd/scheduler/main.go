package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mentorhub/internal/circuitbreaker"
	"mentorhub/internal/config"
	"mentorhub/internal/db"
	"mentorhub/internal/meetings"
	"mentorhub/internal/observ"
	"mentorhub/internal/redis"
	"mentorhub/internal/rules"
	"mentorhub/internal/telegram"
	"mentorhub/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting mentorhub scheduler",
		zap.String("env", cfg.Env),
		zap.Duration("tick_interval", cfg.TickInterval),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
	)

	ctx := context.Background()
	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Redis backs the advisory tick lock; the scheduler degrades to
	// running unlocked without it.
	var jobLock *redis.JobLock
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, tick lock disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		jobLock = redis.NewJobLock(redisClient, logger, cfg.TickLockTTL)
		defer redisClient.Close()
	}

	var sender worker.Sender
	if cfg.TelegramToken != "" {
		tg, err := telegram.New(telegram.Config{
			Token:   cfg.TelegramToken,
			BaseURL: cfg.TelegramAPIURL,
			Timeout: cfg.TelegramTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create telegram client: %w", err)
		}
		breaker := circuitbreaker.New(circuitbreaker.DefaultConfig("telegram"), logger)
		sender = circuitbreaker.NewProtectedSender(
			worker.NewTelegramSender(tg, logger), breaker, logger)
		logger.Info("telegram sender initialized")
	} else {
		sender = worker.NewLogSender(logger)
		logger.Warn("BOT_TOKEN not set, deliveries are logged only")
	}

	materializer := rules.New(repo, logger)
	reconciler := meetings.NewReconciler(repo, cfg.MeetingGrace, logger)
	meetingService := meetings.NewService(repo, reconciler, meetings.Config{
		ReminderLead: cfg.ReminderLead,
		Grace:        cfg.MeetingGrace,
		LocalZone:    cfg.LocalZone(),
	}, logger)
	dispatcher := worker.NewDispatcher(repo, sender, logger)

	engine := worker.NewEngine(materializer, meetingService, reconciler, dispatcher, jobLock, worker.EngineConfig{
		TickInterval:      cfg.TickInterval,
		ReconcileInterval: cfg.ReconcileInterval,
	}, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		engine.Start(runCtx)
		close(done)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	cancel()
	<-done

	logger.Info("scheduler stopped gracefully")
	return nil
}
