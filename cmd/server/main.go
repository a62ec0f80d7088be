package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/danghamo/nearby/internal/api"
	"github.com/danghamo/nearby/pkg/config"
	"github.com/danghamo/nearby/pkg/redisx"
)

var version = "0.1.0"

func main() {
	cfg, log, err := config.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting nearby engine",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.String("transport", cfg.Feed.Transport),
	)

	var opts []redisx.ClientOption
	if cfg.Redis.PrivateDB {
		opts = append(opts, redisx.WithPrivate())
	}
	redisClient, err := redisx.NewClient(cfg.Redis.URL, log, opts...)
	if err != nil {
		log.Fatal("Failed to initialize Redis client", zap.Error(err))
	}
	defer redisClient.Close()

	server, err := api.NewServer(cfg, log, redisClient)
	if err != nil {
		log.Fatal("Failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Error("Server error", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Server gracefully stopped")
}
