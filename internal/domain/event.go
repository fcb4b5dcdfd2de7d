package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a booking lifecycle event
type EventType string

const (
	EventBookingCreated         EventType = "booking.created"
	EventBookingConfirmed       EventType = "booking.confirmed"
	EventBookingFailed          EventType = "booking.failed"
	EventBookingCancelled       EventType = "booking.cancelled"
	EventBookingPaymentConflict EventType = "booking.payment_conflict"
)

// EventTypeFor returns the event emitted when a booking enters a status
func EventTypeFor(status BookingStatus) EventType {
	switch status {
	case BookingStatusConfirmed:
		return EventBookingConfirmed
	case BookingStatusFailed:
		return EventBookingFailed
	case BookingStatusCancelled:
		return EventBookingCancelled
	}
	return EventBookingCreated
}

// BookingEvent is the payload published for every lifecycle event
type BookingEvent struct {
	EventID    string        `json:"event_id"`
	EventType  EventType     `json:"event_type"`
	OccurredAt time.Time     `json:"occurred_at"`
	BookingID  string        `json:"booking_id"`
	UserID     string        `json:"user_id,omitempty"`
	SessionID  string        `json:"session_id,omitempty"`
	Status     BookingStatus `json:"status"`
	Amount     int64         `json:"amount"`
	Currency   string        `json:"currency,omitempty"`
	PaymentRef string        `json:"payment_ref,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Actor      string        `json:"actor,omitempty"`
}

// NewBookingEvent builds the event for a booking entering status
func NewBookingEvent(eventType EventType, b *Booking, status BookingStatus, reason string) *BookingEvent {
	return &BookingEvent{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		BookingID:  b.ID,
		UserID:     b.UserID,
		SessionID:  b.SessionID,
		Status:     status,
		Amount:     b.AmountPaid,
		Currency:   b.Currency,
		PaymentRef: b.PaymentRef,
		Reason:     reason,
	}
}

// BookingOutboxEvent wraps a booking event in an outbox message
func BookingOutboxEvent(topic string, evt *BookingEvent) (*OutboxMessage, error) {
	return NewOutboxMessage(evt.BookingID, evt.EventType, topic, evt)
}
