package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the status of a booking
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusConfirmed BookingStatus = "confirmed"
	BookingStatusCancelled BookingStatus = "cancelled"
	BookingStatusFailed    BookingStatus = "failed"
)

// Failure and cancellation reasons stored on the booking
const (
	ReasonPaymentInitiationFailed = "payment_initiation_failed"
	ReasonPaymentFailed           = "payment_failed"
	ReasonReservationTimeout      = "reservation_timeout"
	ReasonUserCancelled           = "user_cancelled"
	ReasonBookingCreateFailed     = "booking_create_failed"
)

// bookingTransitions lists the legal successors of each status.
// Terminal statuses have no entry.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPending:   {BookingStatusConfirmed, BookingStatusFailed, BookingStatusCancelled},
	BookingStatusConfirmed: {BookingStatusCancelled},
}

// IsValid checks if the status is a valid BookingStatus
func (s BookingStatus) IsValid() bool {
	switch s {
	case BookingStatusPending, BookingStatusConfirmed, BookingStatusCancelled, BookingStatusFailed:
		return true
	}
	return false
}

// String returns the string representation of BookingStatus
func (s BookingStatus) String() string {
	return string(s)
}

// IsActive reports whether a booking in this status holds a seat
func (s BookingStatus) IsActive() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// IsTerminal reports whether no transition leaves this status
func (s BookingStatus) IsTerminal() bool {
	return s.IsValid() && len(bookingTransitions[s]) == 0
}

// ParseBookingStatus converts a string into a known status
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(strings.ToLower(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", ErrInvalidBookingStatus
	}
	return status, nil
}

// CanTransition checks the transition table
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Predecessors returns every status that may transition to the given one
func Predecessors(to BookingStatus) []BookingStatus {
	var from []BookingStatus
	for _, s := range []BookingStatus{BookingStatusPending, BookingStatusConfirmed} {
		if CanTransition(s, to) {
			from = append(from, s)
		}
	}
	return from
}

// ReleasesCapacity reports whether entering this status gives the seat back
func ReleasesCapacity(to BookingStatus) bool {
	return to == BookingStatusFailed || to == BookingStatusCancelled
}

// BookingPaymentStatus is the payment summary kept on the booking row
type BookingPaymentStatus string

const (
	BookingPaymentPending         BookingPaymentStatus = "pending"
	BookingPaymentPaid            BookingPaymentStatus = "paid"
	BookingPaymentRefundRequested BookingPaymentStatus = "refund_requested"
	BookingPaymentRefunded        BookingPaymentStatus = "refunded"
	BookingPaymentFailed          BookingPaymentStatus = "failed"
)

// PaymentStatusAfter returns the payment summary a booking carries after
// entering to, given its current summary. It mirrors the payment record:
// a cancelled paid booking awaits a refund, a cancelled unpaid one has failed.
func PaymentStatusAfter(to BookingStatus, current BookingPaymentStatus) BookingPaymentStatus {
	switch to {
	case BookingStatusConfirmed:
		return BookingPaymentPaid
	case BookingStatusFailed:
		return BookingPaymentFailed
	case BookingStatusCancelled:
		switch current {
		case BookingPaymentPaid:
			return BookingPaymentRefundRequested
		case BookingPaymentPending:
			return BookingPaymentFailed
		}
	}
	return current
}

// Booking is one user's claim on one seat of one session
type Booking struct {
	ID            string               `json:"id"`
	UserID        string               `json:"user_id"`
	SessionID     string               `json:"session_id"`
	Status        BookingStatus        `json:"status"`
	PaymentStatus BookingPaymentStatus `json:"payment_status"`
	AmountPaid    int64                `json:"amount_paid"`
	Currency      string               `json:"currency"`
	PaymentRef    string               `json:"payment_ref,omitempty"`
	FailureReason string               `json:"failure_reason,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewPendingBooking builds a pending booking with a fresh id
func NewPendingBooking(userID, sessionID string, amount int64, currency string) *Booking {
	now := time.Now().UTC()
	return &Booking{
		ID:            uuid.NewString(),
		UserID:        userID,
		SessionID:     sessionID,
		Status:        BookingStatusPending,
		PaymentStatus: BookingPaymentPending,
		AmountPaid:    amount,
		Currency:      currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate validates all booking fields
func (b *Booking) Validate() error {
	if strings.TrimSpace(b.ID) == "" {
		return ErrInvalidBookingID
	}
	if strings.TrimSpace(b.UserID) == "" {
		return ErrInvalidUserID
	}
	if strings.TrimSpace(b.SessionID) == "" {
		return ErrInvalidSessionID
	}
	if !b.Status.IsValid() {
		return ErrInvalidBookingStatus
	}
	if b.AmountPaid < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// BelongsToUser checks if the booking belongs to the specified user
func (b *Booking) BelongsToUser(userID string) bool {
	return b.UserID == userID
}

// TransitionOptions carries the side data written with a status change
type TransitionOptions struct {
	Reason string
	// Event is inserted into the outbox in the same transaction, if set
	Event *OutboxMessage
	// ReleaseSeat returns the booking's seat to its session in the same
	// transaction, only when the guard applied
	ReleaseSeat bool
}
