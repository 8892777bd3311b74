package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ecomanager/backend/internal/config"
	"github.com/ecomanager/backend/internal/db"
	httpapi "github.com/ecomanager/backend/internal/http"
	"github.com/ecomanager/backend/internal/notify"
	"github.com/ecomanager/backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "ecomanager-backend").Logger()

	ctx := context.Background()
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
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

	router := httpapi.Router(cfg, store, engine, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
