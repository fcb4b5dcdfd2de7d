package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentRecordStatus is the processor-side state of a booking's payment
type PaymentRecordStatus string

const (
	PaymentPending         PaymentRecordStatus = "pending"
	PaymentPaid            PaymentRecordStatus = "paid"
	PaymentFailed          PaymentRecordStatus = "failed"
	PaymentRefundRequested PaymentRecordStatus = "refund_requested"
	PaymentRefunded        PaymentRecordStatus = "refunded"
)

// paymentTransitions keeps payment records monotone
var paymentTransitions = map[PaymentRecordStatus][]PaymentRecordStatus{
	PaymentPending:         {PaymentPaid, PaymentFailed},
	PaymentPaid:            {PaymentRefundRequested},
	PaymentRefundRequested: {PaymentRefunded},
}

// IsValid checks if the status is known
func (s PaymentRecordStatus) IsValid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefundRequested, PaymentRefunded:
		return true
	}
	return false
}

// String returns the string representation of PaymentRecordStatus
func (s PaymentRecordStatus) String() string {
	return string(s)
}

// PaymentPredecessors returns the statuses a record may move to `to` from
func PaymentPredecessors(to PaymentRecordStatus) []PaymentRecordStatus {
	var from []PaymentRecordStatus
	for _, s := range []PaymentRecordStatus{PaymentPending, PaymentPaid, PaymentRefundRequested} {
		for _, next := range paymentTransitions[s] {
			if next == to {
				from = append(from, s)
			}
		}
	}
	return from
}

// PaymentRecord links a booking to its processor reference
type PaymentRecord struct {
	BookingID   string              `json:"booking_id"`
	ExternalRef string              `json:"external_ref"`
	Status      PaymentRecordStatus `json:"status"`
	Amount      int64               `json:"amount"`
	Currency    string              `json:"currency"`
	LastEventID string              `json:"last_event_id,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// PaymentEventKind classifies a verified processor event
type PaymentEventKind string

const (
	PaymentEventSucceeded PaymentEventKind = "succeeded"
	PaymentEventFailed    PaymentEventKind = "failed"
	PaymentEventIgnored   PaymentEventKind = "ignored"
)

// PaymentEvent is a verified webhook notification
type PaymentEvent struct {
	EventID       string           `json:"event_id"`
	Type          string           `json:"type"`
	Kind          PaymentEventKind `json:"kind"`
	BookingID     string           `json:"booking_id"`
	ExternalRef   string           `json:"external_ref"`
	Amount        int64            `json:"amount"`
	Currency      string           `json:"currency"`
	FailureReason string           `json:"failure_reason,omitempty"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// ProcessedEvent marks a webhook event id as handled
type ProcessedEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	BookingID  string    `json:"booking_id"`
	ReceivedAt time.Time `json:"received_at"`
}

// ConflictReason explains why a payment needs manual reconciliation
type ConflictReason string

const (
	ConflictLateSuccess    ConflictReason = "late_success"
	ConflictAmountMismatch ConflictReason = "amount_mismatch"
	ConflictUnknownBooking ConflictReason = "unknown_booking"
)

// PaymentConflict is an append-only record of a payment that disagrees with booking state
type PaymentConflict struct {
	ID            string         `json:"id"`
	BookingID     string         `json:"booking_id"`
	EventID       string         `json:"event_id"`
	ExternalRef   string         `json:"external_ref"`
	BookingStatus BookingStatus  `json:"booking_status"`
	Reason        ConflictReason `json:"reason"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewPaymentConflict records a conflict for the given event
func NewPaymentConflict(evt *PaymentEvent, status BookingStatus, reason ConflictReason) *PaymentConflict {
	return &PaymentConflict{
		ID:            uuid.NewString(),
		BookingID:     evt.BookingID,
		EventID:       evt.EventID,
		ExternalRef:   evt.ExternalRef,
		BookingStatus: status,
		Reason:        reason,
		Amount:        evt.Amount,
		Currency:      evt.Currency,
		CreatedAt:     time.Now().UTC(),
	}
}
