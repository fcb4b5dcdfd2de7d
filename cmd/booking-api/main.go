package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
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
		ServiceName: "booking-api",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting booking API", zap.String("version", cfg.App.Version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Tracing disabled", zap.Error(err))
	}

	container, cleanup, err := di.Bootstrap(ctx, cfg, di.BootstrapOptions{Publisher: cfg.Outbox.Enabled})
	if err != nil {
		appLog.Fatal("Bootstrap failed", zap.Error(err))
	}
	defer cleanup()

	// In-process workers; run the standalone binaries instead to scale them separately.
	if cfg.Sweeper.Enabled {
		if err := container.Sweeper.Start(ctx); err != nil {
			appLog.Fatal("Failed to start sweeper", zap.Error(err))
		}
		defer container.Sweeper.Stop()
	}
	if cfg.Outbox.Enabled && container.Relay != nil {
		if err := container.Relay.Start(ctx); err != nil {
			appLog.Fatal("Failed to start outbox relay", zap.Error(err))
		}
		defer container.Relay.Stop()
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      container.Router(cfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		appLog.Info("Booking API listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("Server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Failed to flush traces", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
