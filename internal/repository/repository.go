package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
)

// CapacityLedger is the only writer of a session's current capacity
type CapacityLedger interface {
	// TryReserve takes one seat with a single conditional update.
	// Returns ErrSessionNotFound, ErrSessionCancelled or ErrCapacityExceeded when no seat was taken.
	TryReserve(ctx context.Context, sessionID string) error

	// Release gives one seat back, never going below zero
	Release(ctx context.Context, sessionID string) error

	// GetSession retrieves a session by ID
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// BookingStore defines the interface for booking data access
type BookingStore interface {
	// CreatePending inserts a pending booking and, if event is non-nil, its outbox message.
	// Returns ErrDuplicateActiveBooking when the user already holds an active booking for the session.
	CreatePending(ctx context.Context, booking *domain.Booking, event *domain.OutboxMessage) error

	// TransitionStatus moves the booking to `to` only if its current status is in `from`.
	// It reports false, without error, when the guard did not match.
	TransitionStatus(ctx context.Context, bookingID string, from []domain.BookingStatus, to domain.BookingStatus, opts domain.TransitionOptions) (bool, error)

	// Get retrieves a booking by ID
	Get(ctx context.Context, bookingID string) (*domain.Booking, error)

	// ListByUser returns a user's bookings, newest first
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error)

	// SetPaymentRef stores the processor reference for a booking
	SetPaymentRef(ctx context.Context, bookingID, ref string) error

	// FindStalePending returns pending bookings created before olderThan
	FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Booking, error)
}

// PaymentRecordStore holds payment records, processed webhook ids and conflicts
type PaymentRecordStore interface {
	// CreateRecord inserts a record; an existing record for the booking is left untouched
	CreateRecord(ctx context.Context, record *domain.PaymentRecord) error

	// ApplyStatus upserts the record to record.Status. An existing record is only
	// updated when its status is in `from`. Reports whether a row was written.
	ApplyStatus(ctx context.Context, record *domain.PaymentRecord, from []domain.PaymentRecordStatus) (bool, error)

	// GetRecord retrieves the record for a booking
	GetRecord(ctx context.Context, bookingID string) (*domain.PaymentRecord, error)

	// MarkEventProcessed claims a webhook event id. Reports false if already claimed.
	MarkEventProcessed(ctx context.Context, evt *domain.ProcessedEvent) (bool, error)

	// UnmarkEventProcessed releases a claim so a redelivery is processed again
	UnmarkEventProcessed(ctx context.Context, eventID string) error

	// RecordConflict appends a conflict and, if event is non-nil, its outbox message
	RecordConflict(ctx context.Context, conflict *domain.PaymentConflict, event *domain.OutboxMessage) error

	// ListConflicts returns the most recent conflicts
	ListConflicts(ctx context.Context, limit, offset int) ([]*domain.PaymentConflict, error)
}

// OutboxRepository defines the interface for outbox data access
type OutboxRepository interface {
	// ClaimPending locks up to limit pending messages for lease and returns them
	ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error)

	// MarkAsPublished marks a message as successfully published
	MarkAsPublished(ctx context.Context, id string) error

	// MarkAsFailed records a failed attempt. A dead message is not retried again.
	MarkAsFailed(ctx context.Context, id string, errMsg string, dead bool) error

	// DeletePublished deletes published messages older than the cutoff
	DeletePublished(ctx context.Context, olderThan time.Time) (int64, error)
}

// AvailabilityCache is a short-lived, non-authoritative cache of session availability
type AvailabilityCache interface {
	// Get returns nil, nil on a miss
	Get(ctx context.Context, sessionID string) (*domain.Availability, error)
	Set(ctx context.Context, availability *domain.Availability) error
	Invalidate(ctx context.Context, sessionID string) error
}
