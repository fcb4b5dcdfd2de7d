package gateway

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Stripe event types the engine acts on
const (
	eventPaymentIntentSucceeded     = "payment_intent.succeeded"
	eventPaymentIntentFailed        = "payment_intent.payment_failed"
	eventPaymentIntentCanceled      = "payment_intent.canceled"
	eventCheckoutCompleted          = "checkout.session.completed"
	eventCheckoutAsyncSucceeded     = "checkout.session.async_payment_succeeded"
	eventCheckoutExpired            = "checkout.session.expired"
	eventCheckoutAsyncPaymentFailed = "checkout.session.async_payment_failed"
)

// verifyStripeEvent checks the Stripe-Signature header and decodes the event.
// Stripe accounts may pin a different API version than the library, so the
// version check is skipped; only the signature and timestamp are enforced.
func verifyStripeEvent(payload []byte, sigHeader, secret string) (stripe.Event, error) {
	if secret == "" || sigHeader == "" {
		return stripe.Event{}, domain.ErrInvalidSignature
	}
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", domain.ErrInvalidSignature, err)
	}
	return event, nil
}

// mapStripeEvent converts a verified Stripe event. Payment intent failures are
// ignored in checkout mode because the hosted page lets the customer retry;
// there the session expiring is the terminal failure signal.
func mapStripeEvent(event stripe.Event, checkoutMode bool) (*WebhookEvent, error) {
	evt := &WebhookEvent{
		EventID:    event.ID,
		Type:       string(event.Type),
		Kind:       domain.PaymentEventIgnored,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return evt, nil
	}

	switch string(event.Type) {
	case eventPaymentIntentSucceeded, eventPaymentIntentFailed, eventPaymentIntentCanceled:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("failed to decode payment intent: %w", err)
		}
		evt.ExternalRef = pi.ID
		evt.BookingID = pi.Metadata[MetadataBookingID]
		evt.Amount = pi.Amount
		evt.Currency = strings.ToUpper(string(pi.Currency))

		switch string(event.Type) {
		case eventPaymentIntentSucceeded:
			evt.Kind = domain.PaymentEventSucceeded
		case eventPaymentIntentFailed:
			if !checkoutMode {
				evt.Kind = domain.PaymentEventFailed
				evt.FailureReason = domain.ReasonPaymentFailed
				if pi.LastPaymentError != nil && pi.LastPaymentError.Code != "" {
					evt.FailureReason = string(pi.LastPaymentError.Code)
				}
			}
		case eventPaymentIntentCanceled:
			if !checkoutMode {
				evt.Kind = domain.PaymentEventFailed
				evt.FailureReason = "payment_canceled"
			}
		}

	case eventCheckoutCompleted, eventCheckoutAsyncSucceeded, eventCheckoutExpired, eventCheckoutAsyncPaymentFailed:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}
		evt.ExternalRef = cs.ID
		evt.BookingID = cs.Metadata[MetadataBookingID]
		if evt.BookingID == "" {
			evt.BookingID = cs.ClientReferenceID
		}
		evt.Amount = cs.AmountTotal
		evt.Currency = strings.ToUpper(string(cs.Currency))

		switch string(event.Type) {
		case eventCheckoutCompleted, eventCheckoutAsyncSucceeded:
			if cs.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
				evt.Kind = domain.PaymentEventSucceeded
			}
		case eventCheckoutExpired:
			evt.Kind = domain.PaymentEventFailed
			evt.FailureReason = "checkout_expired"
		case eventCheckoutAsyncPaymentFailed:
			evt.Kind = domain.PaymentEventFailed
			evt.FailureReason = domain.ReasonPaymentFailed
		}
	}

	// Objects without our metadata belong to something else on the account.
	if evt.BookingID == "" {
		evt.Kind = domain.PaymentEventIgnored
	}
	return evt, nil
}
