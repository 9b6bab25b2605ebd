package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/chat-archive-insights/internal/adapters/mcp"
	"github.com/kirillkom/chat-archive-insights/internal/bootstrap"
	"github.com/kirillkom/chat-archive-insights/internal/config"
	"github.com/kirillkom/chat-archive-insights/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	// stdout is the MCP transport.
	slog.SetDefault(logging.New(os.Stderr, "archive-mcp", cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.Options{})
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	s := mcpadapter.NewServer(app.AskUC, app.Queries, cfg.ServiceVersion)
	slog.Info("mcp_serving_stdio")
	if err := server.ServeStdio(s); err != nil {
		slog.Error("mcp_server_stopped", "error", err)
	}
}
