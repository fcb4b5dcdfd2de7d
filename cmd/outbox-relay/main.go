package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prohmpiriya/program-booking-engine/internal/di"
	"github.com/prohmpiriya/program-booking-engine/pkg/config"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "outbox-relay",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting outbox relay", zap.String("broker", cfg.Events.Broker))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   "outbox-relay",
		Environment:   cfg.App.Environment,
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	container, cleanup, err := di.Bootstrap(ctx, cfg, di.BootstrapOptions{Publisher: true})
	if err != nil {
		appLog.Fatal("Bootstrap failed", zap.Error(err))
	}
	defer cleanup()

	if container.Relay == nil {
		appLog.Fatal("EVENTS_BROKER is none; nothing to relay")
	}
	if err := container.Relay.Start(ctx); err != nil {
		appLog.Fatal("Failed to start outbox relay", zap.Error(err))
	}

	<-ctx.Done()
	container.Relay.Stop()

	stats := container.Relay.GetStats()
	appLog.Info("Outbox relay stopped",
		zap.Int64("published", stats.Published),
		zap.Int64("dead_lettered", stats.DeadLettered),
	)
	_ = telemetry.Shutdown(context.Background())
}
