package di

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/gateway"
	"github.com/prohmpiriya/program-booking-engine/internal/handler"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/internal/service"
	"github.com/prohmpiriya/program-booking-engine/internal/worker"
	"github.com/prohmpiriya/program-booking-engine/pkg/config"
	"github.com/prohmpiriya/program-booking-engine/pkg/database"
	"github.com/prohmpiriya/program-booking-engine/pkg/middleware"
	"github.com/prohmpiriya/program-booking-engine/pkg/redis"
	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
)

// Container holds all dependencies for the booking engine
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	Ledger   repository.CapacityLedger
	Bookings repository.BookingStore
	Payments repository.PaymentRecordStore
	Outbox   repository.OutboxRepository
	Cache    repository.AvailabilityCache

	Gateway *gateway.ResilientGateway

	// Services
	Lifecycle      *service.LifecycleService
	Reconciliation *service.ReconciliationService
	Admin          *service.AdminService

	// Handlers
	HealthHandler  *handler.HealthHandler
	BookingHandler *handler.BookingHandler
	WebhookHandler *handler.WebhookHandler
	AdminHandler   *handler.AdminHandler

	// Workers
	Sweeper *worker.TimeoutSweeper
	Relay   *worker.OutboxRelay
}

// ContainerConfig contains everything needed to build the container.
// DB and Redis may be nil when the stores are in-memory.
type ContainerConfig struct {
	App *config.Config

	DB    *database.PostgresDB
	Redis *redis.Client

	Ledger   repository.CapacityLedger
	Bookings repository.BookingStore
	Payments repository.PaymentRecordStore
	Outbox   repository.OutboxRepository

	Gateway *gateway.ResilientGateway

	// Publisher may be nil, in which case no relay is built
	Publisher worker.EventPublisher
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) *Container {
	app := cfg.App
	c := &Container{
		DB:       cfg.DB,
		Redis:    cfg.Redis,
		Ledger:   cfg.Ledger,
		Bookings: cfg.Bookings,
		Payments: cfg.Payments,
		Outbox:   cfg.Outbox,
		Gateway:  cfg.Gateway,
	}

	if cfg.Redis != nil {
		c.Cache = repository.NewRedisAvailabilityCache(cfg.Redis.Client(), app.Booking.AvailabilityTTL)
	}

	// Services
	c.Lifecycle = service.NewLifecycleService(c.Ledger, c.Bookings, c.Payments, c.Gateway, c.Cache, &service.LifecycleConfig{
		EventsTopic: app.Events.Topic,
	})
	c.Reconciliation = service.NewReconciliationService(c.Gateway, c.Payments, c.Lifecycle)
	c.Admin = service.NewAdminService(c.Lifecycle, c.Payments)

	// Handlers
	checks := map[string]handler.HealthChecker{"database": nil, "redis": nil}
	if c.DB != nil {
		checks["database"] = c.DB
	}
	if c.Redis != nil {
		checks["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(checks)
	c.BookingHandler = handler.NewBookingHandler(c.Lifecycle)
	c.WebhookHandler = handler.NewWebhookHandler(c.Reconciliation)
	c.AdminHandler = handler.NewAdminHandler(c.Admin)

	// Workers
	c.Sweeper = worker.NewTimeoutSweeper(c.Lifecycle, &worker.TimeoutSweeperConfig{
		Interval:           app.Sweeper.Interval,
		ReservationTimeout: app.Booking.ReservationTimeout,
		BatchSize:          app.Sweeper.BatchSize,
	})
	if cfg.Publisher != nil && c.Outbox != nil {
		relayCfg := worker.DefaultOutboxRelayConfig()
		relayCfg.PollInterval = app.Outbox.PollInterval
		relayCfg.BatchSize = app.Outbox.BatchSize
		relayCfg.MaxRetries = app.Outbox.MaxRetries
		relayCfg.RetentionPeriod = app.Outbox.RetentionPeriod
		relayCfg.Source = app.App.Name
		dlq := retry.NewBrokerDLQPublisher(cfg.Publisher, &retry.DLQConfig{TopicSuffix: ".dlq", Source: app.App.Name})
		c.Relay = worker.NewOutboxRelay(c.Outbox, cfg.Publisher, dlq, relayCfg)
	}

	return c
}

// Router builds the HTTP engine for the API binary
func (c *Container) Router(app *config.Config) *gin.Engine {
	var idem *middleware.IdempotencyConfig
	if c.Redis != nil {
		idem = middleware.DefaultIdempotencyConfig(c.Redis)
		idem.TTL = app.Booking.IdempotencyTTL
	}

	return handler.NewRouter(handler.RouterConfig{
		ServiceName: app.OTel.ServiceName,
		CORSOrigins: app.Server.CORSOrigins,
		AdminRole:   app.JWT.AdminRole,
		Tracing:     app.OTel.Enabled,
		Auth:        middleware.NewTokenValidator(middleware.AuthConfig{Secret: app.JWT.Secret, Issuer: app.JWT.Issuer}),
		Idempotency: idem,
		Bookings:    c.BookingHandler,
		Webhooks:    c.WebhookHandler,
		Admin:       c.AdminHandler,
		Health:      c.HealthHandler,
	})
}
