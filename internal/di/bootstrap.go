package di

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/program-booking-engine/internal/gateway"
	"github.com/prohmpiriya/program-booking-engine/internal/metrics"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/migrations"
	"github.com/prohmpiriya/program-booking-engine/pkg/config"
	"github.com/prohmpiriya/program-booking-engine/pkg/database"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/redis"
	"go.uber.org/zap"
)

// BootstrapOptions selects which infrastructure a binary needs
type BootstrapOptions struct {
	// Publisher connects the events broker for the outbox relay
	Publisher bool
}

// Bootstrap connects Postgres, Redis, the payment gateway and optionally the
// events broker, then builds the container. The returned cleanup closes
// everything in reverse order.
func Bootstrap(ctx context.Context, cfg *config.Config, opts BootstrapOptions) (*Container, func(), error) {
	log := logger.Get()
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	db, err := database.NewPostgres(ctx, database.FromAppConfig(cfg.Database, cfg.OTel.Enabled))
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	closers = append(closers, db.Close)
	log.Info("Database connected", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	if cfg.Database.AutoMigrate {
		script, err := migrations.Script()
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := db.ExecScript(ctx, script); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to apply migrations: %w", err)
		}
		log.Info("Migrations applied")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(ctx, redis.FromAppConfig(cfg.Redis))
		if err != nil {
			// Redis only backs the availability cache and idempotency keys.
			log.Warn("Redis connection failed, continuing without cache", zap.Error(err))
			redisClient = nil
		} else {
			closers = append(closers, func() { _ = redisClient.Close() })
			log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	gw, err := gateway.NewPaymentGateway(cfg.Payment, metrics.RecordBreakerState)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to build payment gateway: %w", err)
	}
	log.Info("Payment gateway ready", zap.String("gateway", gw.Name()), zap.String("mode", cfg.Payment.Mode))

	containerCfg := &ContainerConfig{
		App:      cfg,
		DB:       db,
		Redis:    redisClient,
		Ledger:   repository.NewPostgresCapacityLedger(db.Pool()),
		Bookings: repository.NewPostgresBookingStore(db.Pool()),
		Payments: repository.NewPostgresPaymentRecordStore(db.Pool()),
		Outbox:   repository.NewPostgresOutboxRepository(db.Pool()),
		Gateway:  gw,
	}

	if opts.Publisher {
		pub, closePub, err := NewEventPublisher(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("events broker connection failed: %w", err)
		}
		closers = append(closers, closePub)
		if pub != nil {
			containerCfg.Publisher = pub
			log.Info("Events broker connected", zap.String("broker", cfg.Events.Broker))
		}
	}

	return NewContainer(containerCfg), cleanup, nil
}
