package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/gateway"
	"github.com/prohmpiriya/program-booking-engine/internal/metrics"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Outcome describes what a webhook did to local state
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoop      Outcome = "noop"
	OutcomeConflict  Outcome = "conflict"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeRejected  Outcome = "rejected"
)

// PaymentEventHandler applies verified payment events to bookings
type PaymentEventHandler interface {
	Confirm(ctx context.Context, evt *domain.PaymentEvent) (Outcome, error)
	Fail(ctx context.Context, evt *domain.PaymentEvent) (Outcome, error)
}

// WebhookVerifier verifies and decodes processor webhooks
type WebhookVerifier interface {
	VerifyAndParseWebhook(payload []byte, sigHeader string) (*gateway.WebhookEvent, error)
}

// ReconciliationService turns processor webhooks into lifecycle transitions.
// Each event id is applied at most once.
type ReconciliationService struct {
	verifier WebhookVerifier
	payments repository.PaymentRecordStore
	handler  PaymentEventHandler
	log      *logger.Logger
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(verifier WebhookVerifier, payments repository.PaymentRecordStore, handler PaymentEventHandler) *ReconciliationService {
	return &ReconciliationService{
		verifier: verifier,
		payments: payments,
		handler:  handler,
		log:      logger.Get().Named("reconciliation"),
	}
}

// Handle verifies a webhook and applies it. It returns only after the
// transition attempt finished; a returned error asks the processor to redeliver.
func (s *ReconciliationService) Handle(ctx context.Context, payload []byte, sigHeader string) (Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reconciliation.handle")
	defer span.End()

	evt, err := s.verifier.VerifyAndParseWebhook(payload, sigHeader)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			// Never log the payload of an unverified request.
			s.log.Warn("Rejected webhook with invalid signature", zap.Int("payload_bytes", len(payload)))
			metrics.RecordWebhook(string(OutcomeRejected))
			return OutcomeRejected, err
		}
		// Verified but undecodable; redelivery would not help.
		s.log.Error("Failed to decode verified webhook", zap.Error(err))
		metrics.RecordWebhook(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}
	span.SetAttributes(
		attribute.String("event_id", evt.EventID),
		attribute.String("event_type", evt.Type),
		attribute.String("booking_id", evt.BookingID),
	)

	if evt.Kind == domain.PaymentEventIgnored {
		s.log.Debug("Ignoring webhook", zap.String("event_id", evt.EventID), zap.String("type", evt.Type))
		metrics.RecordWebhook(string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	claimed, err := s.payments.MarkEventProcessed(ctx, &domain.ProcessedEvent{
		EventID:    evt.EventID,
		EventType:  evt.Type,
		BookingID:  evt.BookingID,
		ReceivedAt: evt.OccurredAt,
	})
	if err != nil {
		telemetry.FailSpan(span, err)
		return "", fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !claimed {
		s.log.Info("Duplicate webhook delivery", zap.String("event_id", evt.EventID))
		metrics.RecordWebhook(string(OutcomeDuplicate))
		return OutcomeDuplicate, nil
	}

	var outcome Outcome
	switch evt.Kind {
	case domain.PaymentEventSucceeded:
		outcome, err = s.handler.Confirm(ctx, evt)
	case domain.PaymentEventFailed:
		outcome, err = s.handler.Fail(ctx, evt)
	}

	if err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			s.log.Info("Webhook arrived after booking was finalized",
				zap.String("event_id", evt.EventID),
				zap.String("booking_id", evt.BookingID),
			)
			metrics.RecordWebhook(string(OutcomeNoop))
			return OutcomeNoop, nil
		}

		// Release the claim so the processor's retry is applied.
		if uerr := s.payments.UnmarkEventProcessed(context.WithoutCancel(ctx), evt.EventID); uerr != nil {
			s.log.Error("Failed to release webhook claim",
				zap.String("event_id", evt.EventID),
				zap.Error(uerr),
			)
		}
		telemetry.FailSpan(span, err)
		s.log.Error("Failed to apply webhook",
			zap.String("event_id", evt.EventID),
			zap.String("booking_id", evt.BookingID),
			zap.Error(err),
		)
		return "", err
	}

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	metrics.RecordWebhook(string(outcome))
	return outcome, nil
}
