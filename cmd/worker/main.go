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

	"github.com/kirillkom/chat-archive-insights/internal/bootstrap"
	"github.com/kirillkom/chat-archive-insights/internal/config"
	"github.com/kirillkom/chat-archive-insights/internal/core/domain"
	"github.com/kirillkom/chat-archive-insights/internal/core/usecase"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/chat-archive-insights/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/chat-archive-insights/internal/observability/logging"
	"github.com/kirillkom/chat-archive-insights/internal/observability/metrics"
)

const serviceName = "archive-report-worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{
		RequireEvents: true,
		Resilience:    workerMetrics.Resilience(),
	})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	storage, err := localfs.New(cfg.ReportPath)
	if err != nil {
		log.Fatalf("init report storage: %v", err)
	}
	reports := usecase.NewReportUseCase(app.Queries, storage, xlsx.WriteEvaluation, "xlsx")

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject, "report_path", cfg.ReportPath)
	err = app.Events.SubscribeQueryRecorded(ctx, func(handlerCtx context.Context, event domain.QueryRecordedEvent) error {
		if !event.RecordedAt.IsZero() {
			workerMetrics.ObserveEventLag(time.Since(event.RecordedAt))
		}
		workerMetrics.StartEvent()
		start := time.Now()

		exportCtx, cancel := context.WithTimeout(handlerCtx, time.Minute)
		defer cancel()
		result, err := reports.HandleQueryRecorded(exportCtx, event)
		if err != nil {
			workerMetrics.FinishEvent("error", time.Since(start))
			return err
		}
		workerMetrics.FinishEvent(string(result), time.Since(start))
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
