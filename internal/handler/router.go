package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/program-booking-engine/internal/metrics"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/middleware"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
)

// RouterConfig bundles everything the HTTP surface depends on
type RouterConfig struct {
	ServiceName string
	CORSOrigins []string
	AdminRole   string
	Tracing     bool

	Auth        *middleware.TokenValidator
	Idempotency *middleware.IdempotencyConfig
	Log         *logger.Logger

	Bookings *BookingHandler
	Webhooks *WebhookHandler
	Admin    *AdminHandler
	Health   *HealthHandler
}

// NewRouter builds the gin engine and registers all routes
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Log == nil {
		cfg.Log = logger.Get()
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(cfg.Log))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if cfg.Tracing {
		r.Use(telemetry.TracingMiddleware(cfg.ServiceName))
	}
	r.Use(metrics.Middleware())

	r.GET("/health", cfg.Health.Health)
	r.GET("/ready", cfg.Health.Ready)
	r.GET("/metrics", metrics.Handler())

	v1 := r.Group("/api/v1")

	// Processor callbacks authenticate by signature, not by bearer token.
	v1.POST("/webhooks/payments", cfg.Webhooks.HandlePayment)

	authed := v1.Group("")
	authed.Use(middleware.Auth(cfg.Auth))
	{
		bookings := authed.Group("/bookings")
		create := []gin.HandlerFunc{}
		if cfg.Idempotency != nil && cfg.Idempotency.Redis != nil {
			create = append(create, middleware.Idempotency(cfg.Idempotency))
		}
		create = append(create, cfg.Bookings.CreateBooking)
		bookings.POST("", create...)
		bookings.GET("", cfg.Bookings.ListBookings)
		bookings.GET("/:id", cfg.Bookings.GetBooking)
		bookings.POST("/:id/cancel", cfg.Bookings.CancelBooking)

		authed.GET("/sessions/:id/availability", cfg.Bookings.GetAvailability)

		admin := authed.Group("/admin")
		admin.Use(middleware.RequireRole(cfg.AdminRole))
		admin.POST("/bookings/:id/override", cfg.Admin.OverrideStatus)
		admin.GET("/payment-conflicts", cfg.Admin.ListConflicts)
	}

	return r
}
