package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"hyperfeed/config"
	"hyperfeed/enrich"
	"hyperfeed/internal/channel"
	"hyperfeed/logger"
	"hyperfeed/processor"
	"hyperfeed/reader/hyperliquid"
	"hyperfeed/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Hyperfeed.Name,
		"version": cfg.Hyperfeed.Version,
		"coins":   cfg.Source.Hyperliquid.Coins,
	}).Info("starting hyperfeed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.CloudWatchEnabled {
		logger.InitCloudWatch(cfg.Storage.S3.Region, "HyperFeed", cfg.Logging.DashboardName)
	}
	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	channels := channel.NewChannels(
		cfg.Channels.FrameBuffer,
		cfg.Channels.RecordBuffer,
	)
	defer channels.Close()

	go channels.StartMetricsReporting(ctx)

	enricher := enrich.NewClient(cfg)
	normalizer := processor.NewNormalizer(cfg, channels, enricher)
	feedReader := hyperliquid.NewReader(cfg, channels, cfg.Source.Hyperliquid.Coins)

	sinks, err := writer.BuildSinks(cfg)
	if err != nil {
		log.WithError(err).Error("failed to build sinks")
		os.Exit(1)
	}
	recordWriter, err := writer.NewWriter(cfg, channels, sinks)
	if err != nil {
		log.WithError(err).Error("failed to create writer")
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := recordWriter.Start(ctx); err != nil {
			log.WithError(err).Warn("writer failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := normalizer.Start(ctx); err != nil {
			log.WithError(err).Warn("normalizer failed to start")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := feedReader.Start(ctx); err != nil {
			log.WithError(err).Warn("hyperliquid reader failed to start")
		}
	}()

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	log.Info("stopping hyperliquid reader")
	feedReader.Stop()

	log.Info("stopping normalizer")
	normalizer.Stop()

	log.Info("stopping writer")
	recordWriter.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	log.Info("hyperfeed stopped")
}
