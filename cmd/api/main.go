package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/chat-archive-insights/internal/adapters/http"
	"github.com/kirillkom/chat-archive-insights/internal/bootstrap"
	"github.com/kirillkom/chat-archive-insights/internal/config"
	"github.com/kirillkom/chat-archive-insights/internal/observability/logging"
	"github.com/kirillkom/chat-archive-insights/internal/observability/metrics"
	"github.com/kirillkom/chat-archive-insights/internal/observability/tracing"
)

const serviceName = "archive-api"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.OTELEnabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.ServiceVersion,
		Endpoint:       cfg.OTELEndpoint,
		SampleRatio:    cfg.OTELSampleRatio,
	})
	if err != nil {
		log.Fatalf("tracing init error: %v", err)
	}

	serverMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		Observer:      serverMetrics,
		OnRateLimited: serverMetrics.RecordRateLimited,
		Resilience:    serverMetrics.Resilience(),
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	router := httpadapter.NewRouter(httpadapter.RouterConfig{
		RateLimitRPS:   cfg.APIRateLimitRPS,
		RateLimitBurst: cfg.APIRateLimitBurst,
		MaxInFlight:    cfg.APIMaxInFlight,
		QueueWait:      time.Duration(cfg.APIQueueWaitMS) * time.Millisecond,
	}, app.AskUC, app.Queries, serverMetrics).Handler()

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Streams are bounded by the ask timeout; leave headroom for the terminal event.
		WriteTimeout: time.Duration(cfg.AskTimeoutSeconds+15) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("api_shutdown_failed", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Warn("tracing_shutdown_failed", "error", err)
	}
}
