package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	"github.com/samber/do"
	"github.com/serroba/datafactory/internal/container"
	"github.com/serroba/datafactory/internal/messaging"
	"go.uber.org/zap"
)

func main() {
	var opts container.ConsumerOptions
	if err := envconfig.Process("", &opts); err != nil {
		log.Fatalf("read configuration: %v", err)
	}

	injector := do.New()
	do.ProvideValue(injector, &opts)
	do.ProvideValue(injector, &container.Options{
		RedisAddr: opts.RedisAddr,
		LogFormat: opts.LogFormat,
	})
	container.LoggerPackage(injector)
	container.RedisPackage(injector)
	container.ConsumerPackage(injector)

	logger := do.MustInvoke[*zap.Logger](injector)
	group := do.MustInvoke[*messaging.ConsumerGroup](injector)

	ctx, cancel := context.WithCancel(context.Background())

	if err := group.Start(ctx); err != nil {
		logger.Fatal("failed to start consumer group", zap.Error(err))
	}

	logger.Info("monitoring consumer running", zap.String("group", opts.ConsumerGroup))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	cancel()

	if err := injector.Shutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
