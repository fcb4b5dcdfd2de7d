package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/dto"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// adminTransitions lists, per target, the statuses an operator may move a booking from
var adminTransitions = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingStatusConfirmed: {domain.BookingStatusPending},
	domain.BookingStatusCancelled: {domain.BookingStatusPending, domain.BookingStatusConfirmed},
	domain.BookingStatusFailed:    {domain.BookingStatusPending},
}

// AdminOperations is the operator API consumed by the admin handler
type AdminOperations interface {
	Override(ctx context.Context, actor, bookingID, status, reason string) (*dto.AdminOverrideResponse, error)
	ListConflicts(ctx context.Context, limit, offset int) ([]*domain.PaymentConflict, error)
}

// AdminService applies operator overrides through the same guarded transition as every other path
type AdminService struct {
	lifecycle *LifecycleService
	payments  repository.PaymentRecordStore
}

var _ AdminOperations = (*AdminService)(nil)

// NewAdminService creates a new admin service
func NewAdminService(lifecycle *LifecycleService, payments repository.PaymentRecordStore) *AdminService {
	return &AdminService{lifecycle: lifecycle, payments: payments}
}

// Override moves a booking to status when the admin table allows it
func (s *AdminService) Override(ctx context.Context, actor, bookingID, status, reason string) (*dto.AdminOverrideResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.admin.override")
	defer span.End()

	to, err := domain.ParseBookingStatus(status)
	if err != nil {
		return nil, err
	}
	from, ok := adminTransitions[to]
	if !ok {
		return nil, fmt.Errorf("%w: cannot override to %s", domain.ErrIllegalTransition, to)
	}
	if strings.TrimSpace(bookingID) == "" {
		return nil, domain.ErrInvalidBookingID
	}
	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("to", to.String()),
		attribute.String("actor", actor),
	)

	booking, err := s.lifecycle.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !containsStatus(from, booking.Status) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrIllegalTransition, booking.Status, to)
	}

	// Guard on the status just read so PreviousStatus is the one replaced.
	applied, err := s.lifecycle.transition(ctx, booking, []domain.BookingStatus{booking.Status}, to, "admin: "+reason, actor)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}
	if !applied {
		return nil, domain.ErrStaleTransition
	}

	if to == domain.BookingStatusCancelled {
		s.lifecycle.settlePaymentAfterCancel(ctx, booking)
	}

	s.lifecycle.log.Warn("Admin override applied",
		zap.String("booking_id", booking.ID),
		zap.String("actor", actor),
		zap.String("from", booking.Status.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason),
	)

	return &dto.AdminOverrideResponse{
		BookingID:      booking.ID,
		PreviousStatus: booking.Status.String(),
		Status:         to.String(),
	}, nil
}

// ListConflicts returns recorded payment conflicts, newest first
func (s *AdminService) ListConflicts(ctx context.Context, limit, offset int) ([]*domain.PaymentConflict, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	conflicts, err := s.payments.ListConflicts(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment conflicts: %w", err)
	}
	return conflicts, nil
}

func containsStatus(set []domain.BookingStatus, s domain.BookingStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
