package gateway

import (
	"fmt"

	"github.com/prohmpiriya/program-booking-engine/pkg/config"
)

// NewPaymentGateway builds the configured gateway wrapped in a ResilientGateway
func NewPaymentGateway(cfg config.PaymentConfig, onBreakerChange func(from, to string)) (*ResilientGateway, error) {
	var inner PaymentGateway
	switch cfg.Gateway {
	case "stripe":
		g, err := NewStripeGateway(&StripeGatewayConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Mode:          cfg.Mode,
			SuccessURL:    cfg.CheckoutSuccessURL,
			CancelURL:     cfg.CheckoutCancelURL,
		})
		if err != nil {
			return nil, err
		}
		inner = g
	case "mock", "":
		inner = NewMockGateway(&MockGatewayConfig{
			SuccessRate:   cfg.MockSuccessRate,
			WebhookSecret: cfg.StripeWebhookSecret,
		})
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Gateway)
	}

	rc := DefaultResilientConfig()
	if cfg.BreakerMaxFailures > 0 {
		rc.MaxFailures = uint32(cfg.BreakerMaxFailures)
	}
	if cfg.BreakerOpenTimeout > 0 {
		rc.OpenTimeout = cfg.BreakerOpenTimeout
	}
	if cfg.MaxRetries >= 0 {
		r := *rc.Retry
		r.MaxRetries = cfg.MaxRetries
		rc.Retry = &r
	}
	rc.OnStateChange = onBreakerChange

	return NewResilientGateway(inner, rc), nil
}

