package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecomanager/backend/internal/config"
	"github.com/ecomanager/backend/internal/db"
	"github.com/ecomanager/backend/internal/notify"
	"github.com/ecomanager/backend/internal/scheduler"
	"github.com/ecomanager/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "ecomanager-scheduler").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store *db.Store
	for attempt := 1; ; attempt++ {
		store, err = db.New(ctx, cfg.DatabaseURL)
		if err == nil {
			break
		}
		if attempt >= 5 {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		logger.Warn().Err(err).Int("attempt", attempt).Msg("db connection failed, retrying")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt*attempt) * 2 * time.Second):
		}
	}
	defer store.Close()

	var notifier notify.Notifier
	if cfg.SMSGatewayURL == "" {
		notifier = notify.MockNotifier{SenderID: cfg.SMSSenderID, Logger: logger}
		logger.Info().Msg("using mock SMS notifier")
	} else {
		notifier = notify.HTTPNotifier{
			BaseURL:  cfg.SMSGatewayURL,
			APIKey:   cfg.SMSAPIKey,
			SenderID: cfg.SMSSenderID,
		}
	}

	engine := &service.Engine{
		Store:         store,
		Notifier:      notifier,
		Logger:        logger,
		NotifyTimeout: cfg.NotifyTimeout,
	}

	periodic, err := scheduler.NewPeriodic(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build periodic scheduler")
	}
	if err := periodic.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start periodic scheduler")
	}
	defer periodic.Shutdown()

	worker, err := scheduler.NewWorker(cfg, store, engine, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build worker")
	}

	logger.Info().
		Dur("auto_assign_every", cfg.AutoAssignEvery).
		Dur("duplicate_every", cfg.DuplicateEvery).
		Dur("classify_every", cfg.ClassifyEvery).
		Msg("scheduler started")
	worker.Run(ctx)
	logger.Info().Msg("scheduler stopped")
}
