package gateway

import (
	"context"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
)

// ChargeRequest starts a payment for one booking. Amount is in minor units.
type ChargeRequest struct {
	BookingID   string
	Amount      int64
	Currency    string
	Description string
	Metadata    map[string]string
}

// ChargeIntent is the processor's handle for a started payment
type ChargeIntent struct {
	ExternalRef  string `json:"external_ref"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Status       string `json:"status"`
}

// WebhookEvent is a verified processor notification
type WebhookEvent = domain.PaymentEvent

// PaymentGateway is the boundary to the external payment processor
type PaymentGateway interface {
	// InitiateCharge creates a payment intent or hosted checkout for the booking.
	// The metadata always carries booking_id.
	InitiateCharge(ctx context.Context, req *ChargeRequest) (*ChargeIntent, error)

	// VerifyAndParseWebhook checks the signature and maps the event.
	// Any verification failure returns domain.ErrInvalidSignature.
	VerifyAndParseWebhook(payload []byte, sigHeader string) (*WebhookEvent, error)

	// CancelCharge invalidates an unpaid intent or checkout
	CancelCharge(ctx context.Context, externalRef string) error

	// Name returns the gateway name
	Name() string
}

// MetadataBookingID is the metadata key linking processor objects to bookings
const MetadataBookingID = "booking_id"

func chargeMetadata(req *ChargeRequest) map[string]string {
	md := make(map[string]string, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		md[k] = v
	}
	md[MetadataBookingID] = req.BookingID
	return md
}
