package dto

import (
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
)

// CreateBookingRequest represents a request to reserve a seat
type CreateBookingRequest struct {
	SessionID      string `json:"session_id" binding:"required"`
	ExpectedAmount *int64 `json:"expected_amount" binding:"required,min=0"`
}

// CreateBookingResponse is returned after a seat is reserved and payment started
type CreateBookingResponse struct {
	BookingID    string `json:"booking_id"`
	Status       string `json:"status"`
	PaymentRef   string `json:"payment_ref"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// CancelBookingResponse is returned after a cancellation
type CancelBookingResponse struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	SessionID     string    `json:"session_id"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status"`
	AmountPaid    int64     `json:"amount_paid"`
	AmountDisplay string    `json:"amount_display"`
	Currency      string    `json:"currency"`
	PaymentRef    string    `json:"payment_ref,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListBookingsQuery holds pagination for the booking list
type ListBookingsQuery struct {
	Limit  int `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}

// AvailabilityResponse represents session availability
type AvailabilityResponse struct {
	SessionID    string    `json:"session_id"`
	MaxCapacity  int       `json:"max_capacity"`
	Reserved     int       `json:"reserved"`
	Available    int       `json:"available"`
	IsCancelled  bool      `json:"is_cancelled"`
	StartsAt     time.Time `json:"starts_at"`
	PriceAmount  int64     `json:"price_amount"`
	PriceDisplay string    `json:"price_display"`
	Currency     string    `json:"currency"`
}

// AdminOverrideRequest represents an admin status override
type AdminOverrideRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required,max=500"`
}

// AdminOverrideResponse is returned after an override
type AdminOverrideResponse struct {
	BookingID      string `json:"booking_id"`
	PreviousStatus string `json:"previous_status"`
	Status         string `json:"status"`
}

// WebhookResponse acknowledges a processor notification
type WebhookResponse struct {
	Received bool   `json:"received"`
	Outcome  string `json:"outcome"`
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking) *BookingResponse {
	return &BookingResponse{
		ID:            b.ID,
		UserID:        b.UserID,
		SessionID:     b.SessionID,
		Status:        b.Status.String(),
		PaymentStatus: string(b.PaymentStatus),
		AmountPaid:    b.AmountPaid,
		AmountDisplay: domain.FormatMinor(b.AmountPaid, b.Currency),
		Currency:      b.Currency,
		PaymentRef:    b.PaymentRef,
		FailureReason: b.FailureReason,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

// FromDomainList converts a slice of bookings
func FromDomainList(bookings []*domain.Booking) []*BookingResponse {
	out := make([]*BookingResponse, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, FromDomain(b))
	}
	return out
}

// FromAvailability converts the availability read model
func FromAvailability(a *domain.Availability) *AvailabilityResponse {
	return &AvailabilityResponse{
		SessionID:    a.SessionID,
		MaxCapacity:  a.MaxCapacity,
		Reserved:     a.Reserved,
		Available:    a.Available,
		IsCancelled:  a.IsCancelled,
		StartsAt:     a.StartsAt,
		PriceAmount:  a.PriceAmount,
		PriceDisplay: domain.FormatMinor(a.PriceAmount, a.Currency),
		Currency:     a.Currency,
	}
}
