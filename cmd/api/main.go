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

	httpadapter "github.com/kirillkom/docqa-orchestrator/internal/adapters/http"
	"github.com/kirillkom/docqa-orchestrator/internal/bootstrap"
	"github.com/kirillkom/docqa-orchestrator/internal/config"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/logging"
	"github.com/kirillkom/docqa-orchestrator/internal/observability/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config_error", zap.Error(err))
	}
	logger := logging.New(logging.Options{Service: "api", Level: cfg.LogLevel, FilePath: cfg.LogFile})
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, "docqa-api", cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Fatal("tracing_init_error", zap.Error(err))
	}

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("bootstrap_error", zap.Error(err))
	}
	defer app.Close()

	router := httpadapter.NewRouter(app.Orchestrator, app.Runs, httpadapter.Options{
		RateLimitRPS:     cfg.APIRateLimitRPS,
		RateLimitBurst:   cfg.APIRateLimitBurst,
		MaxInFlight:      cfg.APIMaxInFlight,
		BackpressureWait: cfg.APIBackpressureWait,
		RunTimeout:       cfg.APIRunTimeout,
		Metrics:          app.HTTPMetrics,
		Logger:           logger.Named("http"),
	}).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("api_server_error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing_shutdown_error", zap.Error(err))
	}
}
