package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/dto"
	"github.com/prohmpiriya/program-booking-engine/internal/gateway"
	"github.com/prohmpiriya/program-booking-engine/internal/metrics"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BookingLifecycle is the booking API consumed by handlers and workers
type BookingLifecycle interface {
	// RequestBooking reserves a seat, creates a pending booking and starts payment
	RequestBooking(ctx context.Context, userID, sessionID string, expectedAmount int64) (*dto.CreateBookingResponse, error)

	// Cancel cancels a pending or confirmed booking owned by userID
	Cancel(ctx context.Context, userID, bookingID string) (*dto.CancelBookingResponse, error)

	// GetBooking returns a booking owned by userID
	GetBooking(ctx context.Context, userID, bookingID string) (*dto.BookingResponse, error)

	// ListUserBookings returns a page of the user's bookings
	ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*dto.BookingResponse, error)

	// GetAvailability returns a possibly cached view of session seats
	GetAvailability(ctx context.Context, sessionID string) (*dto.AvailabilityResponse, error)

	// ExpireStale fails pending bookings created before olderThan
	ExpireStale(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// LifecycleConfig contains configuration for the lifecycle service
type LifecycleConfig struct {
	EventsTopic string
	// Now is used for session start checks; defaults to time.Now
	Now func() time.Time
	// ReleaseRetry bounds retries of a release that has no booking row behind it
	ReleaseRetry *retry.Config
}

// DefaultReleaseRetry returns the retry policy for compensating releases
func DefaultReleaseRetry() *retry.Config {
	return &retry.Config{
		MaxRetries:      4,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// LifecycleService orchestrates reserve, charge, confirm, fail and cancel.
// Every path that leaves the active set goes through transition, whose
// guarded update returns the seat in the same store transaction.
type LifecycleService struct {
	ledger   repository.CapacityLedger
	bookings repository.BookingStore
	payments repository.PaymentRecordStore
	gateway  gateway.PaymentGateway
	cache    repository.AvailabilityCache
	topic    string
	now      func() time.Time
	retry    *retry.Config
	log      *logger.Logger
}

var _ BookingLifecycle = (*LifecycleService)(nil)

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(
	ledger repository.CapacityLedger,
	bookings repository.BookingStore,
	payments repository.PaymentRecordStore,
	gw gateway.PaymentGateway,
	cache repository.AvailabilityCache,
	cfg *LifecycleConfig,
) *LifecycleService {
	topic := domain.DefaultEventsTopic
	now := time.Now
	releaseRetry := DefaultReleaseRetry()
	if cfg != nil {
		if cfg.EventsTopic != "" {
			topic = cfg.EventsTopic
		}
		if cfg.Now != nil {
			now = cfg.Now
		}
		if cfg.ReleaseRetry != nil {
			releaseRetry = cfg.ReleaseRetry
		}
	}
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}
	return &LifecycleService{
		ledger:   ledger,
		bookings: bookings,
		payments: payments,
		gateway:  gw,
		cache:    cache,
		topic:    topic,
		now:      now,
		retry:    releaseRetry,
		log:      logger.Get().Named("lifecycle"),
	}
}

// RequestBooking reserves a seat and starts the payment. A failure after the
// reservation is compensated so no seat stays held by a booking that cannot pay.
func (s *LifecycleService) RequestBooking(ctx context.Context, userID, sessionID string, expectedAmount int64) (*dto.CreateBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.request_booking")
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidUserID
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}
	if expectedAmount < 0 {
		return nil, domain.ErrInvalidAmount
	}
	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("session_id", sessionID),
	)

	session, err := s.ledger.GetSession(ctx, sessionID)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}
	if session.IsCancelled {
		metrics.RecordBookingRequest("session_cancelled")
		return nil, domain.ErrSessionCancelled
	}
	if session.HasStartedAt(s.now()) {
		metrics.RecordBookingRequest("session_in_past")
		return nil, domain.ErrSessionInPast
	}
	if expectedAmount != session.PriceAmount {
		metrics.RecordBookingRequest("price_changed")
		return nil, domain.ErrAmountMismatch
	}

	if err := s.ledger.TryReserve(ctx, sessionID); err != nil {
		metrics.RecordBookingRequest(outcomeLabel(err))
		if !domain.IsUserRejection(err) && !domain.IsNotFound(err) {
			telemetry.FailSpan(span, err)
		}
		return nil, err
	}

	booking := domain.NewPendingBooking(userID, sessionID, session.PriceAmount, session.Currency)
	span.SetAttributes(attribute.String("booking_id", booking.ID))

	created, err := domain.BookingOutboxEvent(s.topic,
		domain.NewBookingEvent(domain.EventBookingCreated, booking, domain.BookingStatusPending, ""))
	if err != nil {
		s.compensate(ctx, sessionID, "build_event")
		return nil, fmt.Errorf("failed to build booking event: %w", err)
	}

	// The insert can commit even if the caller goes away mid-COMMIT.
	if err := s.bookings.CreatePending(context.WithoutCancel(ctx), booking, created); err != nil {
		metrics.RecordBookingRequest(outcomeLabel(err))
		if errors.Is(err, domain.ErrDuplicateActiveBooking) {
			s.compensate(ctx, sessionID, "create_pending")
			return nil, err
		}
		s.abandonPending(ctx, booking)
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	intent, err := s.gateway.InitiateCharge(ctx, &gateway.ChargeRequest{
		BookingID:   booking.ID,
		Amount:      booking.AmountPaid,
		Currency:    booking.Currency,
		Description: "Booking for session " + sessionID,
		Metadata: map[string]string{
			"user_id":    userID,
			"session_id": sessionID,
		},
	})
	if err != nil {
		s.log.Warn("Payment initiation failed, releasing reservation",
			zap.String("booking_id", booking.ID),
			zap.Error(err),
		)
		// The caller may have gone away; compensation must still run.
		cctx := context.WithoutCancel(ctx)
		if _, terr := s.transition(cctx, booking, []domain.BookingStatus{domain.BookingStatusPending},
			domain.BookingStatusFailed, domain.ReasonPaymentInitiationFailed, ""); terr != nil {
			s.log.Error("Failed to fail booking after payment initiation error",
				zap.String("booking_id", booking.ID),
				zap.Error(terr),
			)
		}
		metrics.RecordBookingRequest("payment_unavailable")
		telemetry.FailSpan(span, err)
		if errors.Is(err, domain.ErrPaymentGatewayUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentGatewayUnavailable, err)
	}

	// Reconciliation maps events through metadata, so these are not fatal.
	if err := s.bookings.SetPaymentRef(ctx, booking.ID, intent.ExternalRef); err != nil {
		s.log.Error("Failed to store payment ref", zap.String("booking_id", booking.ID), zap.Error(err))
	}
	if err := s.payments.CreateRecord(ctx, &domain.PaymentRecord{
		BookingID:   booking.ID,
		ExternalRef: intent.ExternalRef,
		Status:      domain.PaymentPending,
		Amount:      booking.AmountPaid,
		Currency:    booking.Currency,
	}); err != nil {
		s.log.Error("Failed to create payment record", zap.String("booking_id", booking.ID), zap.Error(err))
	}
	s.invalidate(ctx, sessionID)

	metrics.RecordBookingRequest("reserved")
	return &dto.CreateBookingResponse{
		BookingID:    booking.ID,
		Status:       booking.Status.String(),
		PaymentRef:   intent.ExternalRef,
		ClientSecret: intent.ClientSecret,
		RedirectURL:  intent.RedirectURL,
		Amount:       booking.AmountPaid,
		Currency:     booking.Currency,
	}, nil
}

// Confirm applies a verified payment success
func (s *LifecycleService) Confirm(ctx context.Context, evt *domain.PaymentEvent) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.confirm")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", evt.BookingID), attribute.String("event_id", evt.EventID))

	booking, err := s.bookings.Get(ctx, evt.BookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		return s.conflict(ctx, evt, nil, domain.ConflictUnknownBooking)
	}
	if err != nil {
		telemetry.FailSpan(span, err)
		return "", fmt.Errorf("failed to load booking: %w", err)
	}

	if _, err := s.payments.ApplyStatus(ctx, &domain.PaymentRecord{
		BookingID:   booking.ID,
		ExternalRef: evt.ExternalRef,
		Status:      domain.PaymentPaid,
		Amount:      evt.Amount,
		Currency:    evt.Currency,
		LastEventID: evt.EventID,
	}, domain.PaymentPredecessors(domain.PaymentPaid)); err != nil {
		telemetry.FailSpan(span, err)
		return "", fmt.Errorf("failed to apply payment record: %w", err)
	}

	if evt.Amount != booking.AmountPaid || (evt.Currency != "" && !strings.EqualFold(evt.Currency, booking.Currency)) {
		return s.conflict(ctx, evt, booking, domain.ConflictAmountMismatch)
	}

	applied, err := s.transition(ctx, booking, []domain.BookingStatus{domain.BookingStatusPending},
		domain.BookingStatusConfirmed, "", "")
	if err != nil {
		telemetry.FailSpan(span, err)
		return "", err
	}
	if applied {
		return OutcomeConfirmed, nil
	}

	current, err := s.bookings.Get(ctx, booking.ID)
	if err != nil {
		return "", fmt.Errorf("failed to reload booking: %w", err)
	}
	if current.Status == domain.BookingStatusConfirmed {
		return OutcomeNoop, nil
	}
	// The seat may already belong to someone else; never re-reserve.
	return s.conflict(ctx, evt, current, domain.ConflictLateSuccess)
}

// Fail applies a verified payment failure
func (s *LifecycleService) Fail(ctx context.Context, evt *domain.PaymentEvent) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.fail")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", evt.BookingID), attribute.String("event_id", evt.EventID))

	booking, err := s.bookings.Get(ctx, evt.BookingID)
	if errors.Is(err, domain.ErrBookingNotFound) {
		s.log.Info("Payment failure for unknown booking", zap.String("booking_id", evt.BookingID))
		return OutcomeNoop, nil
	}
	if err != nil {
		telemetry.FailSpan(span, err)
		return "", fmt.Errorf("failed to load booking: %w", err)
	}

	reason := evt.FailureReason
	if reason == "" {
		reason = domain.ReasonPaymentFailed
	}
	applied, err := s.transition(ctx, booking, []domain.BookingStatus{domain.BookingStatusPending},
		domain.BookingStatusFailed, reason, "")
	if err != nil {
		telemetry.FailSpan(span, err)
		return "", err
	}
	if applied {
		// A failed intent stays payable; close it before the client retries the card.
		s.cancelCharge(ctx, booking.ID, firstNonEmpty(evt.ExternalRef, booking.PaymentRef))
	}

	if _, err := s.payments.ApplyStatus(ctx, &domain.PaymentRecord{
		BookingID:   booking.ID,
		ExternalRef: evt.ExternalRef,
		Status:      domain.PaymentFailed,
		Amount:      evt.Amount,
		Currency:    evt.Currency,
		LastEventID: evt.EventID,
	}, domain.PaymentPredecessors(domain.PaymentFailed)); err != nil {
		s.log.Error("Failed to apply payment failure", zap.String("booking_id", booking.ID), zap.Error(err))
	}

	if applied {
		return OutcomeFailed, nil
	}
	return OutcomeNoop, nil
}

// Cancel cancels a booking owned by userID
func (s *LifecycleService) Cancel(ctx context.Context, userID, bookingID string) (*dto.CancelBookingResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("booking_id", bookingID))

	booking, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}

	applied, err := s.transition(ctx, booking,
		[]domain.BookingStatus{domain.BookingStatusPending, domain.BookingStatusConfirmed},
		domain.BookingStatusCancelled, domain.ReasonUserCancelled, userID)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}
	if !applied {
		return nil, domain.ErrStaleTransition
	}

	s.settlePaymentAfterCancel(ctx, booking)

	return &dto.CancelBookingResponse{
		BookingID: booking.ID,
		Status:    domain.BookingStatusCancelled.String(),
	}, nil
}

// ExpireStale fails pending bookings whose payment never completed
func (s *LifecycleService) ExpireStale(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.lifecycle.expire_stale")
	defer span.End()

	stale, err := s.bookings.FindStalePending(ctx, olderThan, limit)
	if err != nil {
		telemetry.FailSpan(span, err)
		return 0, fmt.Errorf("failed to find stale bookings: %w", err)
	}

	expired := 0
	for _, b := range stale {
		applied, err := s.transition(ctx, b, []domain.BookingStatus{domain.BookingStatusPending},
			domain.BookingStatusFailed, domain.ReasonReservationTimeout, "sweeper")
		if err != nil {
			s.log.Error("Failed to expire booking", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		if !applied {
			// Confirmed or cancelled since the scan.
			continue
		}
		expired++

		if _, err := s.payments.ApplyStatus(ctx, &domain.PaymentRecord{
			BookingID:   b.ID,
			ExternalRef: b.PaymentRef,
			Status:      domain.PaymentFailed,
			Amount:      b.AmountPaid,
			Currency:    b.Currency,
		}, domain.PaymentPredecessors(domain.PaymentFailed)); err != nil {
			s.log.Warn("Failed to mark payment record failed", zap.String("booking_id", b.ID), zap.Error(err))
		}
		s.cancelCharge(ctx, b.ID, b.PaymentRef)
	}

	span.SetAttributes(attribute.Int("expired", expired))
	metrics.RecordExpired(expired)
	return expired, nil
}

// GetBooking returns a booking owned by userID
func (s *LifecycleService) GetBooking(ctx context.Context, userID, bookingID string) (*dto.BookingResponse, error) {
	booking, err := s.ownedBooking(ctx, userID, bookingID)
	if err != nil {
		return nil, err
	}
	return dto.FromDomain(booking), nil
}

// ListUserBookings returns a page of the user's bookings
func (s *LifecycleService) ListUserBookings(ctx context.Context, userID string, limit, offset int) ([]*dto.BookingResponse, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidUserID
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	bookings, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	return dto.FromDomainList(bookings), nil
}

// GetAvailability reads through the availability cache
func (s *LifecycleService) GetAvailability(ctx context.Context, sessionID string) (*dto.AvailabilityResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, domain.ErrInvalidSessionID
	}

	cached, err := s.cache.Get(ctx, sessionID)
	if err != nil {
		s.log.Warn("Availability cache read failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	if cached != nil {
		return dto.FromAvailability(cached), nil
	}

	session, err := s.ledger.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	availability := session.Availability()
	if err := s.cache.Set(ctx, availability); err != nil {
		s.log.Warn("Availability cache write failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return dto.FromAvailability(availability), nil
}

// transition applies a guarded status change with its outbox event and
// releases the seat exactly once, only when this call won the guard.
func (s *LifecycleService) transition(ctx context.Context, b *domain.Booking, from []domain.BookingStatus, to domain.BookingStatus, reason, actor string) (bool, error) {
	evt := domain.NewBookingEvent(domain.EventTypeFor(to), b, to, reason)
	evt.Actor = actor
	msg, err := domain.BookingOutboxEvent(s.topic, evt)
	if err != nil {
		return false, fmt.Errorf("failed to build booking event: %w", err)
	}

	releases := domain.ReleasesCapacity(to)
	applied, err := s.bookings.TransitionStatus(ctx, b.ID, from, to, domain.TransitionOptions{
		Reason:      reason,
		Event:       msg,
		ReleaseSeat: releases,
	})
	if err != nil {
		return false, fmt.Errorf("failed to transition booking to %s: %w", to, err)
	}
	if !applied {
		s.log.Info("Transition guard did not match",
			zap.String("booking_id", b.ID),
			zap.String("to", to.String()),
		)
		return false, nil
	}

	if releases {
		s.invalidate(ctx, b.SessionID)
	}

	metrics.RecordTransition(to.String(), reasonLabel(reason), releases)
	s.log.Info("Booking transitioned",
		zap.String("booking_id", b.ID),
		zap.String("to", to.String()),
		zap.String("reason", reason),
		zap.Bool("released", releases),
	)
	return true, nil
}

// settlePaymentAfterCancel moves the payment record after a cancellation.
// A paid record is flagged for refund; an unpaid one is failed and its
// processor intent invalidated.
func (s *LifecycleService) settlePaymentAfterCancel(ctx context.Context, b *domain.Booking) {
	record, err := s.payments.GetRecord(ctx, b.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentRecordNotFound) {
			s.log.Warn("Failed to load payment record", zap.String("booking_id", b.ID), zap.Error(err))
		}
		s.cancelCharge(ctx, b.ID, b.PaymentRef)
		return
	}

	switch record.Status {
	case domain.PaymentPaid:
		record.Status = domain.PaymentRefundRequested
		if _, err := s.payments.ApplyStatus(ctx, record, []domain.PaymentRecordStatus{domain.PaymentPaid}); err != nil {
			s.log.Error("Failed to request refund", zap.String("booking_id", b.ID), zap.Error(err))
		}
	case domain.PaymentPending:
		record.Status = domain.PaymentFailed
		if _, err := s.payments.ApplyStatus(ctx, record, []domain.PaymentRecordStatus{domain.PaymentPending}); err != nil {
			s.log.Warn("Failed to fail payment record", zap.String("booking_id", b.ID), zap.Error(err))
		}
		s.cancelCharge(ctx, b.ID, record.ExternalRef)
	}
}

// conflict appends a payment conflict for manual reconciliation
func (s *LifecycleService) conflict(ctx context.Context, evt *domain.PaymentEvent, b *domain.Booking, reason domain.ConflictReason) (Outcome, error) {
	var status domain.BookingStatus
	if b != nil {
		status = b.Status
	}
	c := domain.NewPaymentConflict(evt, status, reason)

	var msg *domain.OutboxMessage
	if b != nil {
		be := domain.NewBookingEvent(domain.EventBookingPaymentConflict, b, b.Status, string(reason))
		be.PaymentRef = evt.ExternalRef
		m, err := domain.BookingOutboxEvent(s.topic, be)
		if err != nil {
			return "", fmt.Errorf("failed to build conflict event: %w", err)
		}
		msg = m
	}

	if err := s.payments.RecordConflict(ctx, c, msg); err != nil {
		return "", fmt.Errorf("failed to record payment conflict: %w", err)
	}

	metrics.RecordConflict(string(reason))
	s.log.Warn("Payment conflict recorded",
		zap.String("booking_id", evt.BookingID),
		zap.String("event_id", evt.EventID),
		zap.String("external_ref", evt.ExternalRef),
		zap.String("booking_status", status.String()),
		zap.String("reason", string(reason)),
	)
	return OutcomeConflict, nil
}

func (s *LifecycleService) ownedBooking(ctx context.Context, userID, bookingID string) (*domain.Booking, error) {
	if strings.TrimSpace(bookingID) == "" {
		return nil, domain.ErrInvalidBookingID
	}
	if strings.TrimSpace(userID) == "" {
		return nil, domain.ErrInvalidUserID
	}
	booking, err := s.bookings.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	// Foreign bookings are indistinguishable from missing ones.
	if !booking.BelongsToUser(userID) {
		return nil, domain.ErrBookingNotFound
	}
	return booking, nil
}

// compensate returns a seat that no booking row holds. Only call it once the
// row is known not to exist; otherwise the guarded transition owns the release.
func (s *LifecycleService) compensate(ctx context.Context, sessionID, step string) {
	result := retry.Do(context.WithoutCancel(ctx), s.retry, func(ctx context.Context) error {
		return s.ledger.Release(ctx, sessionID)
	})
	if result.Err != nil {
		s.log.Error("Compensating release failed",
			zap.String("session_id", sessionID),
			zap.String("step", step),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.LastError),
		)
		return
	}
	metrics.CapacityReleases.Inc()
}

// abandonPending settles a reservation whose booking insert reported an
// error. A row that committed anyway is failed through the guarded
// transition; a missing row gets a direct release. When the row cannot be
// read at all the seat stays held, since releasing it next to a live row
// would oversell.
func (s *LifecycleService) abandonPending(ctx context.Context, b *domain.Booking) {
	cctx := context.WithoutCancel(ctx)

	exists := false
	result := retry.Do(cctx, s.retry, func(ctx context.Context) error {
		_, err := s.bookings.Get(ctx, b.ID)
		switch {
		case err == nil:
			exists = true
			return nil
		case errors.Is(err, domain.ErrBookingNotFound):
			return nil
		}
		return err
	})
	if result.Err != nil {
		s.log.Error("Cannot tell whether booking was written, seat left held",
			zap.String("booking_id", b.ID),
			zap.String("session_id", b.SessionID),
			zap.Error(result.LastError),
		)
		return
	}

	if !exists {
		s.compensate(ctx, b.SessionID, "create_pending")
		return
	}
	s.log.Warn("Booking committed despite insert error, failing it",
		zap.String("booking_id", b.ID),
	)
	if _, err := s.transition(cctx, b, []domain.BookingStatus{domain.BookingStatusPending},
		domain.BookingStatusFailed, domain.ReasonBookingCreateFailed, ""); err != nil {
		// Still pending; the timeout sweep fails it and returns the seat.
		s.log.Error("Failed to fail orphaned booking",
			zap.String("booking_id", b.ID),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) cancelCharge(ctx context.Context, bookingID, ref string) {
	if ref == "" {
		return
	}
	if err := s.gateway.CancelCharge(ctx, ref); err != nil {
		s.log.Warn("Failed to cancel processor charge",
			zap.String("booking_id", bookingID),
			zap.String("external_ref", ref),
			zap.Error(err),
		)
	}
}

func (s *LifecycleService) invalidate(ctx context.Context, sessionID string) {
	if err := s.cache.Invalidate(ctx, sessionID); err != nil {
		s.log.Warn("Availability cache invalidate failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrSessionCancelled):
		return "session_cancelled"
	case errors.Is(err, domain.ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, domain.ErrDuplicateActiveBooking):
		return "duplicate"
	default:
		return "error"
	}
}

// reasonLabel bounds metric label values
func reasonLabel(reason string) string {
	switch reason {
	case "", domain.ReasonPaymentInitiationFailed, domain.ReasonPaymentFailed,
		domain.ReasonReservationTimeout, domain.ReasonUserCancelled,
		domain.ReasonBookingCreateFailed:
		return reason
	}
	if strings.HasPrefix(reason, "admin:") {
		return "admin"
	}
	return "other"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
