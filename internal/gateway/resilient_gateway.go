package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ResilientConfig configures the breaker and retry policy around a gateway
type ResilientConfig struct {
	// MaxFailures consecutive transient failures open the breaker
	MaxFailures uint32
	// OpenTimeout is how long the breaker stays open before probing
	OpenTimeout time.Duration
	// Retry applies to transient failures while the breaker is closed
	Retry *retry.Config
	// OnStateChange is notified on breaker transitions
	OnStateChange func(from, to string)
}

// DefaultResilientConfig returns default configuration
func DefaultResilientConfig() *ResilientConfig {
	return &ResilientConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
		Retry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: 200 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsedTime:  5 * time.Second,
			Multiplier:      2.0,
			JitterFactor:    0.2,
		},
	}
}

// ResilientGateway wraps a gateway with a circuit breaker and bounded retries.
// Outages surface as domain.ErrPaymentGatewayUnavailable.
type ResilientGateway struct {
	inner   PaymentGateway
	breaker *gobreaker.CircuitBreaker
	retry   *retry.Retrier
}

var _ PaymentGateway = (*ResilientGateway)(nil)

// NewResilientGateway creates a new ResilientGateway
func NewResilientGateway(inner PaymentGateway, cfg *ResilientConfig) *ResilientGateway {
	if cfg == nil {
		cfg = DefaultResilientConfig()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	settings := gobreaker.Settings{
		Name:        "payment-gateway-" + inner.Name(),
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Declines and bad requests say nothing about processor health.
		IsSuccessful: func(err error) bool {
			return err == nil || !retry.IsRetryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Get().Warn("Payment gateway circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(from.String(), to.String())
			}
		},
	}

	return &ResilientGateway{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		retry:   retry.New(cfg.Retry),
	}
}

// Name returns the wrapped gateway's name
func (g *ResilientGateway) Name() string {
	return g.inner.Name()
}

// State returns the breaker state
func (g *ResilientGateway) State() string {
	return g.breaker.State().String()
}

// InitiateCharge calls the inner gateway through the breaker, retrying transient failures
func (g *ResilientGateway) InitiateCharge(ctx context.Context, req *ChargeRequest) (*ChargeIntent, error) {
	var intent *ChargeIntent
	err := g.call(ctx, func(ctx context.Context) error {
		res, err := g.inner.InitiateCharge(ctx, req)
		if err != nil {
			return err
		}
		intent = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// CancelCharge calls the inner gateway through the breaker
func (g *ResilientGateway) CancelCharge(ctx context.Context, externalRef string) error {
	return g.call(ctx, func(ctx context.Context) error {
		return g.inner.CancelCharge(ctx, externalRef)
	})
}

// VerifyAndParseWebhook is local computation and bypasses the breaker
func (g *ResilientGateway) VerifyAndParseWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	return g.inner.VerifyAndParseWebhook(payload, sigHeader)
}

func (g *ResilientGateway) call(ctx context.Context, fn func(ctx context.Context) error) error {
	result := g.retry.Do(ctx, func(ctx context.Context) error {
		_, err := g.breaker.Execute(func() (interface{}, error) {
			return nil, fn(ctx)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return retry.Permanent(err)
		case retry.IsRetryable(err):
			return err
		default:
			return retry.Permanent(err)
		}
	})
	if result.Err == nil {
		return nil
	}

	last := result.LastError
	if last == nil {
		last = result.Err
	}
	if errors.Is(last, gobreaker.ErrOpenState) ||
		errors.Is(last, gobreaker.ErrTooManyRequests) ||
		retry.IsRetryable(last) ||
		errors.Is(result.Err, retry.ErrMaxRetriesExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrPaymentGatewayUnavailable, last)
	}
	return last
}
