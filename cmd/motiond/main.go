package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/motionlab-io/motiond/internal/aggregate"
	"github.com/motionlab-io/motiond/internal/api"
	"github.com/motionlab-io/motiond/internal/config"
	"github.com/motionlab-io/motiond/internal/ingest"
	"github.com/motionlab-io/motiond/internal/kafka"
	"github.com/motionlab-io/motiond/internal/logger"
	"github.com/motionlab-io/motiond/internal/storage"
	"github.com/motionlab-io/motiond/internal/ws"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ValidateCollector(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	ingestSvc := ingest.New(store)
	engine := aggregate.New(store)
	hub := ws.NewHub()
	ingestSvc.Subscribe(hub.Publish)

	server := api.NewServer(ingestSvc, store, engine, hub)
	httpServer := &http.Server{
		Addr:              cfg.Collector.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("Collector listening on %s", cfg.Collector.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received, draining HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.Collector.Kafka.Enabled {
		source := kafka.NewSource(
			cfg.Collector.Kafka.Brokers,
			cfg.Collector.Kafka.Topic,
			cfg.Collector.Kafka.GroupID,
			ingestSvc,
		)
		g.Go(func() error {
			return source.Run(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Collector stopped with error: %v", err)
		return
	}
	logger.Info("Collector stopped")
}
