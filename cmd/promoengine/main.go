package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"promoengine/internal/affiliate"
	"promoengine/internal/bot"
	"promoengine/internal/config"
	"promoengine/internal/credential"
	"promoengine/internal/scraper"
	"promoengine/internal/storage"
)

func main() {
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	log.WithFields(logrus.Fields{
		"badgerdb_path": cfg.BadgerDBPath,
		"sessions_path": cfg.SessionsPath,
		"amazon":        cfg.AmazonEnabled,
		"mercadolivre":  cfg.MercadoLivreEnabled,
	}).Info("Configuration loaded successfully")

	repo, err := storage.NewBadgerRepository(cfg.BadgerDBPath, log)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		log.Info("Closing database...")
		if err := repo.Close(); err != nil {
			log.WithError(err).Error("Error closing database")
		}
	}()

	metrics := affiliate.NewMetrics()
	manager := affiliate.NewManager(log, repo, metrics)

	if cfg.AmazonEnabled {
		amazon, err := affiliate.NewAmazonConverter(cfg.AmazonAssociateTag, log)
		if err != nil {
			log.Fatalf("Failed to initialize Amazon converter: %v", err)
		}
		manager.Register(amazon.Marketplace(), amazon)
	}

	if cfg.MercadoLivreEnabled {
		store := credential.NewStore(log)
		session := scraper.NewRodSession(log)
		ml := affiliate.NewMercadoLivreConverter(store, cfg.MercadoLivreCookieFile, cfg.MercadoLivreTag, session, log)
		manager.Register(ml.Marketplace(), ml)
	}

	botHandler, err := bot.NewHandler(cfg, manager, log)
	if err != nil {
		log.Fatalf("Failed to initialize Telegram bot handler: %v", err)
	}

	log.Info("Starting PromoEngine...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			log.WithField("addr", cfg.MetricsAddr).Info("Metrics server enabled")
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("Metrics server stopped")
			}
		}()
		defer metricsServer.Close()
	}

	go botHandler.Start(ctx)

	log.Info("PromoEngine is running. Press Ctrl+C to exit.")
	<-ctx.Done()

	log.Info("Shutting down PromoEngine...")
	stop()
	log.Info("PromoEngine shut down gracefully.")
}
