package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/bootstrap"
	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/logging"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/metrics"
)

const recordTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config_error", zap.Error(err))
	}
	logger := logging.New(logging.Options{Service: "worker", Level: cfg.LogLevel, FilePath: cfg.LogFile})
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewWorker(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap_error", zap.Error(err))
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("worker_metrics_listening", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_error", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", zap.String("subject", cfg.NATSSubject), zap.String("queue", cfg.NATSQueue))
	err = app.Queue.SubscribeRuns(ctx, func(handlerCtx context.Context, record domain.RunRecord) error {
		recordCtx, cancel := context.WithTimeout(handlerCtx, recordTimeout)
		defer cancel()

		started := time.Now()
		workerMetrics.StartRecord(record.CreatedAt)
		err := app.Runs.Record(recordCtx, record)
		workerMetrics.FinishRecord(time.Since(started), err)
		return err
	})
	if err != nil {
		logger.Error("worker_subscribe_error", zap.Error(err))
	}
}
