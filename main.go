package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"zapdesk/config"
	"zapdesk/internal/httpapi"
	"zapdesk/internal/media"
	"zapdesk/internal/notify"
	"zapdesk/internal/retention"
	"zapdesk/internal/store"
	"zapdesk/internal/ticket"
	"zapdesk/internal/whatsapp"
	"zapdesk/pkg/logger"
)

func main() {
	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Notification channels. Bus subscribers run in-process; RabbitMQ and
	// the global webhook go through the delivery manager with retries.
	bus := notify.NewBus()
	rabbit := notify.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.RabbitQueuePrefix, nil)
	webhook := notify.NewWebhookPublisher(cfg.GlobalWebhookURL)
	delivery := notify.NewDeliveryManager(rabbit, webhook)
	dispatcher := notify.NewDispatcher(bus, delivery)

	var storage media.Storage = media.NewBase64Storage()
	var s3store *media.S3Storage
	if os.Getenv(media.S3GlobalBucket) != "" {
		s3store = media.NewS3Storage()
		storage = s3store
		log.Info().Msg("S3 media storage enabled")
	}

	dialer := whatsapp.NewMeowDialer(cfg.SessionStorePath)
	registry := whatsapp.NewRegistry(st, dialer, dispatcher, storage, cfg.QRTimeout, cfg.SessionSettleDelay)

	tickets := ticket.NewRouter(st, registry)
	registry.SetAutomation(tickets)

	norm := retention.NewNormalizer(cfg.DefaultCountryCode, cfg.DefaultAreaCode)
	sweeper := retention.NewSweeper(st, norm, registry)

	jobs := retention.NewJobs(sweeper, registry)
	if err := jobs.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule maintenance jobs")
	}
	defer jobs.Stop()

	registry.Restore(ctx)

	api := httpapi.NewServer(st, registry, tickets, sweeper, jobs, delivery, s3store, cfg.AdminToken)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP server shutdown failed")
	}

	registry.Shutdown()
	delivery.Stop()
	rabbit.Close()
}
