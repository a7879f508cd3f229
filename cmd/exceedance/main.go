package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/weather-exceedance-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/weather-exceedance-service/internal/adapter/kafka"
	"github.com/couchcryptid/weather-exceedance-service/internal/app"
	"github.com/couchcryptid/weather-exceedance-service/internal/catalog"
	"github.com/couchcryptid/weather-exceedance-service/internal/config"
	"github.com/couchcryptid/weather-exceedance-service/internal/observability"
	"github.com/couchcryptid/weather-exceedance-service/internal/pipeline"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Report publication is feature-flagged via KAFKA_ENABLED.
	var publisher pipeline.Publisher
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		metrics.PublisherEnabled.Set(1)
		logger.Info("report publication enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaReportTopic)
	} else {
		logger.Info("report publication disabled")
	}

	p, err := app.NewPipeline(cfg, publisher, metrics, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, p, p, metrics, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Pre-load sources; /readyz turns green when done.
	go p.Warm(ctx)

	// SIGHUP reloads the source catalog.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				cat, err := catalog.Load(cfg.SourcesFile)
				if err != nil {
					logger.Error("catalog reload failed, keeping current catalog", "error", err)
					continue
				}
				p.ReplaceCatalog(cat)
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
