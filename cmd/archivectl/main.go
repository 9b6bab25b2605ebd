package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/chat-archive-insights/internal/adapters/cli"
	"github.com/kirillkom/chat-archive-insights/internal/bootstrap"
	"github.com/kirillkom/chat-archive-insights/internal/config"
	"github.com/kirillkom/chat-archive-insights/internal/core/intent"
	"github.com/kirillkom/chat-archive-insights/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout carries command output; logs go to stderr.
	slog.SetDefault(logging.New(os.Stderr, "archivectl", cfg.LogLevel, "text"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(cli.Deps{
		Classifier: func(ctx context.Context) (intent.Classifier, error) {
			return bootstrap.NewClassifier(bootstrap.NewLLMClient(ctx, cfg, bootstrap.Options{})), nil
		},
		Backend: func(ctx context.Context) (*cli.Backend, error) {
			app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
			if err != nil {
				return nil, fmt.Errorf("bootstrap: %w", err)
			}
			backend := &cli.Backend{
				Asker:   app.AskUC,
				Rubrics: app.Rubrics,
				Close:   app.Close,
			}
			if app.Events != nil {
				backend.Events = app.Events
			}
			if app.Indexer != nil {
				backend.Indexer = app.Indexer
			}
			return backend, nil
		},
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
