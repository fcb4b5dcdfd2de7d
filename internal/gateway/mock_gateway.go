package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
	"github.com/stripe/stripe-go/v82/webhook"
)

// ErrMockUnavailable is returned when the mock simulates an outage
var ErrMockUnavailable = errors.New("mock gateway: simulated outage")

// MockGatewayConfig holds configuration for the mock gateway
type MockGatewayConfig struct {
	// SuccessRate is the probability that InitiateCharge succeeds (0.0 to 1.0)
	SuccessRate float64
	// DelayMs is the simulated processing delay in milliseconds
	DelayMs int
	// WebhookSecret signs and verifies mock webhooks with the Stripe scheme
	WebhookSecret string
}

// DefaultMockGatewayConfig returns default configuration
func DefaultMockGatewayConfig() *MockGatewayConfig {
	return &MockGatewayConfig{
		SuccessRate:   1.0,
		WebhookSecret: "whsec_mock_secret",
	}
}

type mockIntent struct {
	bookingID string
	amount    int64
	currency  string
	cancelled bool
}

// MockGateway implements PaymentGateway without network calls. Webhooks use the
// same signature scheme as Stripe so the verification path is exercised locally.
type MockGateway struct {
	config  *MockGatewayConfig
	intents sync.Map
	mu      sync.Mutex
	rng     *rand.Rand
}

var _ PaymentGateway = (*MockGateway)(nil)

// NewMockGateway creates a new mock gateway
func NewMockGateway(config *MockGatewayConfig) *MockGateway {
	if config == nil {
		config = DefaultMockGatewayConfig()
	}
	if config.SuccessRate < 0 {
		config.SuccessRate = 0
	}
	if config.SuccessRate > 1 {
		config.SuccessRate = 1
	}
	if config.WebhookSecret == "" {
		config.WebhookSecret = DefaultMockGatewayConfig().WebhookSecret
	}
	return &MockGateway{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Name returns the gateway name
func (g *MockGateway) Name() string {
	return "mock"
}

// InitiateCharge records a fake intent
func (g *MockGateway) InitiateCharge(ctx context.Context, req *ChargeRequest) (*ChargeIntent, error) {
	if req == nil || req.BookingID == "" {
		return nil, retry.Permanent(fmt.Errorf("charge request with booking id is required"))
	}

	if g.config.DelayMs > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(g.config.DelayMs) * time.Millisecond):
		}
	}

	if !g.roll() {
		return nil, retry.Retryable(ErrMockUnavailable)
	}

	ref := "pi_mock_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	g.intents.Store(ref, &mockIntent{
		bookingID: req.BookingID,
		amount:    req.Amount,
		currency:  req.Currency,
	})

	return &ChargeIntent{
		ExternalRef:  ref,
		ClientSecret: ref + "_secret_mock",
		Status:       "requires_payment_method",
	}, nil
}

func (g *MockGateway) roll() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64() < g.config.SuccessRate
}

// VerifyAndParseWebhook verifies a Stripe-format signature with the mock secret
func (g *MockGateway) VerifyAndParseWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	event, err := verifyStripeEvent(payload, sigHeader, g.config.WebhookSecret)
	if err != nil {
		return nil, err
	}
	return mapStripeEvent(event, false)
}

// CancelCharge marks a fake intent as cancelled
func (g *MockGateway) CancelCharge(_ context.Context, externalRef string) error {
	if v, ok := g.intents.Load(externalRef); ok {
		g.mu.Lock()
		v.(*mockIntent).cancelled = true
		g.mu.Unlock()
	}
	return nil
}

// IsCancelled reports whether CancelCharge was called for ref
func (g *MockGateway) IsCancelled(ref string) bool {
	v, ok := g.intents.Load(ref)
	if !ok {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return v.(*mockIntent).cancelled
}

// SignedEvent builds a signed payment_intent webhook for a known intent, as the
// processor would deliver it. amount <= 0 uses the charged amount.
func (g *MockGateway) SignedEvent(eventID, eventType, externalRef string, amount int64) ([]byte, string, error) {
	v, ok := g.intents.Load(externalRef)
	if !ok {
		return nil, "", fmt.Errorf("unknown mock intent %s", externalRef)
	}
	intent := v.(*mockIntent)
	if amount <= 0 {
		amount = intent.amount
	}
	return SignTestEvent(g.config.WebhookSecret, eventID, eventType, map[string]interface{}{
		"id":       externalRef,
		"object":   "payment_intent",
		"amount":   amount,
		"currency": strings.ToLower(intent.currency),
		"metadata": map[string]string{MetadataBookingID: intent.bookingID},
	})
}

// SignTestEvent wraps object in a Stripe event envelope and signs it with secret
func SignTestEvent(secret, eventID, eventType string, object map[string]interface{}) ([]byte, string, error) {
	if eventID == "" {
		eventID = "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	payload, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]interface{}{"object": object},
	})
	if err != nil {
		return nil, "", err
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header, nil
}

