package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	clickhouseadapter "github.com/skysweep/kindex-etl/internal/adapter/clickhouse"
	ftpadapter "github.com/skysweep/kindex-etl/internal/adapter/ftp"
	httpadapter "github.com/skysweep/kindex-etl/internal/adapter/http"
	kafkaadapter "github.com/skysweep/kindex-etl/internal/adapter/kafka"
	plotadapter "github.com/skysweep/kindex-etl/internal/adapter/plot"
	"github.com/skysweep/kindex-etl/internal/config"
	"github.com/skysweep/kindex-etl/internal/observability"
	"github.com/skysweep/kindex-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source := ftpadapter.NewClient(cfg, logger)

	// Sinks are feature-flagged by their respective env vars.
	var sinks []pipeline.ResultSink

	var chWriter *clickhouseadapter.Writer
	if cfg.ClickHouseEnabled {
		chWriter, err = clickhouseadapter.NewWriter(ctx, cfg, logger)
		if err != nil {
			logger.Error("clickhouse init failed", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, chWriter)
	} else {
		logger.Info("clickhouse sink disabled")
	}

	var kafkaWriter *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		kafkaWriter = kafkaadapter.NewWriter(cfg, logger)
		sinks = append(sinks, kafkaWriter)
		logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("kafka sink disabled")
	}

	if cfg.PlotEnabled {
		renderer, err := plotadapter.NewRenderer(cfg, logger)
		if err != nil {
			logger.Error("plot init failed", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, renderer)
		logger.Info("plot sink enabled", "dir", cfg.PlotDir)
	}

	pipelines := make([]*pipeline.Pipeline, 0, len(cfg.Stations))
	codes := make([]string, 0, len(cfg.Stations))
	for _, station := range cfg.Stations {
		pipelines = append(pipelines, pipeline.New(station, source, sinks, logger, metrics))
		codes = append(codes, station.Code)
	}
	group := pipeline.NewGroup(pipelines...)
	logger.Info("station pipelines configured", "stations", codes)

	srv := httpadapter.NewServer(cfg.HTTPAddr, group, cfg.PlotDir, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start station pipelines.
	go func() {
		if err := group.Run(ctx); err != nil {
			logger.Error("pipeline group error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if chWriter != nil {
		if err := chWriter.Close(); err != nil {
			logger.Error("clickhouse close error", "error", err)
		}
	}
	if kafkaWriter != nil {
		if err := kafkaWriter.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
