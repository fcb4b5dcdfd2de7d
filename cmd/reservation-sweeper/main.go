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
		ServiceName: "reservation-sweeper",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting reservation sweeper",
		zap.Duration("interval", cfg.Sweeper.Interval),
		zap.Duration("reservation_timeout", cfg.Booking.ReservationTimeout),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:       cfg.OTel.Enabled,
		ServiceName:   "reservation-sweeper",
		Environment:   cfg.App.Environment,
		CollectorAddr: cfg.OTel.CollectorAddr,
		SampleRatio:   cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	container, cleanup, err := di.Bootstrap(ctx, cfg, di.BootstrapOptions{})
	if err != nil {
		appLog.Fatal("Bootstrap failed", zap.Error(err))
	}
	defer cleanup()

	if err := container.Sweeper.Start(ctx); err != nil {
		appLog.Fatal("Failed to start sweeper", zap.Error(err))
	}

	<-ctx.Done()
	container.Sweeper.Stop()

	stats := container.Sweeper.GetStats()
	appLog.Info("Reservation sweeper stopped",
		zap.Int64("sweeps", stats.Sweeps),
		zap.Int64("total_expired", stats.TotalExpired),
	)
	_ = telemetry.Shutdown(context.Background())
}
