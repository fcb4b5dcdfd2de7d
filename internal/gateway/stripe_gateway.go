package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/paymentintent"
)

// Checkout modes
const (
	ModeIntent   = "intent"
	ModeCheckout = "checkout"
)

// StripeGatewayConfig holds configuration for Stripe gateway
type StripeGatewayConfig struct {
	SecretKey     string
	WebhookSecret string
	// Mode is "intent" (client-side confirmation) or "checkout" (hosted page)
	Mode       string
	SuccessURL string
	CancelURL  string
}

// StripeGateway implements PaymentGateway using Stripe
type StripeGateway struct {
	config *StripeGatewayConfig
}

var _ PaymentGateway = (*StripeGateway)(nil)

// NewStripeGateway creates a new Stripe gateway
func NewStripeGateway(config *StripeGatewayConfig) (*StripeGateway, error) {
	if config == nil {
		return nil, fmt.Errorf("stripe config is required")
	}
	if config.SecretKey == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	if config.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}
	if config.Mode == "" {
		config.Mode = ModeIntent
	}
	if config.Mode == ModeCheckout && (config.SuccessURL == "" || config.CancelURL == "") {
		return nil, fmt.Errorf("checkout mode requires success and cancel URLs")
	}

	stripe.Key = config.SecretKey

	return &StripeGateway{config: config}, nil
}

// Name returns the gateway name
func (g *StripeGateway) Name() string {
	return "stripe"
}

// InitiateCharge creates a PaymentIntent or a Checkout Session for the booking.
// The booking id is used as the Stripe idempotency key so a retried call never
// creates a second charge.
func (g *StripeGateway) InitiateCharge(ctx context.Context, req *ChargeRequest) (*ChargeIntent, error) {
	if req == nil || req.BookingID == "" {
		return nil, retry.Permanent(fmt.Errorf("charge request with booking id is required"))
	}
	if g.config.Mode == ModeCheckout {
		return g.createCheckoutSession(ctx, req)
	}
	return g.createPaymentIntent(ctx, req)
}

func (g *StripeGateway) createPaymentIntent(ctx context.Context, req *ChargeRequest) (*ChargeIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: chargeMetadata(req),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	params.Context = ctx
	params.SetIdempotencyKey("booking-intent-" + req.BookingID)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, classifyStripeError("failed to create payment intent", err)
	}

	return &ChargeIntent{
		ExternalRef:  pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
	}, nil
}

func (g *StripeGateway) createCheckoutSession(ctx context.Context, req *ChargeRequest) (*ChargeIntent, error) {
	md := chargeMetadata(req)
	name := req.Description
	if name == "" {
		name = "Session booking"
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.config.SuccessURL),
		CancelURL:         stripe.String(g.config.CancelURL),
		ClientReferenceID: stripe.String(req.BookingID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: md,
		},
		Metadata: md,
	}
	params.Context = ctx
	params.SetIdempotencyKey("booking-checkout-" + req.BookingID)

	cs, err := session.New(params)
	if err != nil {
		return nil, classifyStripeError("failed to create checkout session", err)
	}

	return &ChargeIntent{
		ExternalRef: cs.ID,
		RedirectURL: cs.URL,
		Status:      string(cs.Status),
	}, nil
}

// VerifyAndParseWebhook verifies the Stripe-Signature header and maps the event
func (g *StripeGateway) VerifyAndParseWebhook(payload []byte, sigHeader string) (*WebhookEvent, error) {
	event, err := verifyStripeEvent(payload, sigHeader, g.config.WebhookSecret)
	if err != nil {
		return nil, err
	}
	return mapStripeEvent(event, g.config.Mode == ModeCheckout)
}

// CancelCharge cancels a PaymentIntent or expires a Checkout Session
func (g *StripeGateway) CancelCharge(ctx context.Context, externalRef string) error {
	if externalRef == "" {
		return nil
	}

	var err error
	if strings.HasPrefix(externalRef, "cs_") {
		params := &stripe.CheckoutSessionExpireParams{}
		params.Context = ctx
		_, err = session.Expire(externalRef, params)
	} else {
		params := &stripe.PaymentIntentCancelParams{
			CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
		}
		params.Context = ctx
		_, err = paymentintent.Cancel(externalRef, params)
	}
	if err != nil {
		return classifyStripeError("failed to cancel charge", err)
	}
	return nil
}

// classifyStripeError marks server-side and rate-limit failures as retryable.
// Request and card errors will fail the same way again.
func classifyStripeError(msg string, err error) error {
	wrapped := fmt.Errorf("%s: %w", msg, err)

	var se *stripe.Error
	if !errors.As(err, &se) {
		// network level failure
		return retry.Retryable(wrapped)
	}
	if se.HTTPStatusCode >= http.StatusInternalServerError ||
		se.HTTPStatusCode == http.StatusTooManyRequests ||
		se.Type == stripe.ErrorTypeAPI {
		return retry.Retryable(wrapped)
	}
	return retry.Permanent(wrapped)
}
