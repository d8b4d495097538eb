package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/justdownloadit/justdownloadit/server"
	"github.com/justdownloadit/justdownloadit/server/config"
	"github.com/justdownloadit/justdownloadit/server/openid"
)

func main() {
	// Parse optional config path from flag
	var configFile string
	flag.StringVar(&configFile, "conf", "./config.yml", "Config file path")
	flag.Parse()

	if err := config.Load(configFile); err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	cfg := config.Instance()

	// Configure OpenID if needed
	openid.Configure()

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting server",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"max_concurrency", cfg.Queue.MaxConcurrency,
	)

	if err := server.Run(ctx); err != nil {
		slog.Error("server stopped with error", slog.Any("err", err))
		os.Exit(1)
	}

	slog.Info("server exited cleanly")
}
