package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/pkg/database"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresPaymentRecordStore implements PaymentRecordStore using PostgreSQL
type PostgresPaymentRecordStore struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentRecordStore creates a new PostgresPaymentRecordStore
func NewPostgresPaymentRecordStore(pool *pgxpool.Pool) *PostgresPaymentRecordStore {
	return &PostgresPaymentRecordStore{pool: pool}
}

var _ PaymentRecordStore = (*PostgresPaymentRecordStore)(nil)

// CreateRecord inserts the initial record for a booking
func (r *PostgresPaymentRecordStore) CreateRecord(ctx context.Context, record *domain.PaymentRecord) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.create")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", record.BookingID))

	query := `
		INSERT INTO payment_records (booking_id, external_ref, status, amount, currency, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (booking_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query,
		record.BookingID,
		record.ExternalRef,
		record.Status.String(),
		record.Amount,
		record.Currency,
	); err != nil {
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to create payment record: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ApplyStatus is one conditional upsert. A missing record is created directly in
// the target status, which covers a webhook that beats the initial insert.
func (r *PostgresPaymentRecordStore) ApplyStatus(ctx context.Context, record *domain.PaymentRecord, from []domain.PaymentRecordStatus) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.apply_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", record.BookingID),
		attribute.String("to", record.Status.String()),
	)

	query := `
		INSERT INTO payment_records (booking_id, external_ref, status, amount, currency, last_event_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW(), NOW())
		ON CONFLICT (booking_id) DO UPDATE SET
			status = EXCLUDED.status,
			external_ref = CASE WHEN EXCLUDED.external_ref <> '' THEN EXCLUDED.external_ref ELSE payment_records.external_ref END,
			amount = CASE WHEN EXCLUDED.amount > 0 THEN EXCLUDED.amount ELSE payment_records.amount END,
			last_event_id = COALESCE(EXCLUDED.last_event_id, payment_records.last_event_id),
			updated_at = NOW()
		WHERE payment_records.status = ANY($7)
	`

	fromStatuses := make([]string, len(from))
	for i, s := range from {
		fromStatuses[i] = s.String()
	}

	result, err := r.pool.Exec(ctx, query,
		record.BookingID,
		record.ExternalRef,
		record.Status.String(),
		record.Amount,
		record.Currency,
		record.LastEventID,
		fromStatuses,
	)
	if err != nil {
		telemetry.FailSpan(span, err)
		return false, fmt.Errorf("failed to apply payment status: %w", err)
	}

	applied := result.RowsAffected() == 1
	span.SetAttributes(attribute.Bool("applied", applied))
	span.SetStatus(codes.Ok, "")
	return applied, nil
}

// GetRecord retrieves the payment record for a booking
func (r *PostgresPaymentRecordStore) GetRecord(ctx context.Context, bookingID string) (*domain.PaymentRecord, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.get")
	defer span.End()

	query := `
		SELECT booking_id, external_ref, status, amount, currency,
			COALESCE(last_event_id, ''), created_at, updated_at
		FROM payment_records
		WHERE booking_id = $1
	`

	rec := &domain.PaymentRecord{}
	var status string
	err := r.pool.QueryRow(ctx, query, bookingID).Scan(
		&rec.BookingID,
		&rec.ExternalRef,
		&status,
		&rec.Amount,
		&rec.Currency,
		&rec.LastEventID,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrPaymentRecordNotFound
		}
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to get payment record: %w", err)
	}
	rec.Status = domain.PaymentRecordStatus(status)

	span.SetStatus(codes.Ok, "")
	return rec, nil
}

// MarkEventProcessed claims an event id with INSERT ... ON CONFLICT DO NOTHING
func (r *PostgresPaymentRecordStore) MarkEventProcessed(ctx context.Context, evt *domain.ProcessedEvent) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.mark_event_processed")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", evt.EventID))

	query := `
		INSERT INTO processed_webhook_events (event_id, event_type, booking_id, received_at)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query, evt.EventID, evt.EventType, evt.BookingID, evt.ReceivedAt)
	if err != nil {
		telemetry.FailSpan(span, err)
		return false, fmt.Errorf("failed to mark event processed: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return result.RowsAffected() == 1, nil
}

// UnmarkEventProcessed deletes a claim
func (r *PostgresPaymentRecordStore) UnmarkEventProcessed(ctx context.Context, eventID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.unmark_event_processed")
	defer span.End()

	if _, err := r.pool.Exec(ctx, `DELETE FROM processed_webhook_events WHERE event_id = $1`, eventID); err != nil {
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to unmark event: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// RecordConflict appends a conflict row and its outbox event in one transaction
func (r *PostgresPaymentRecordStore) RecordConflict(ctx context.Context, conflict *domain.PaymentConflict, event *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.record_conflict")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", conflict.BookingID),
		attribute.String("reason", string(conflict.Reason)),
	)

	query := `
		INSERT INTO payment_conflicts (
			id, booking_id, event_id, external_ref, booking_status, reason, amount, currency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			conflict.ID,
			conflict.BookingID,
			conflict.EventID,
			conflict.ExternalRef,
			conflict.BookingStatus.String(),
			string(conflict.Reason),
			conflict.Amount,
			conflict.Currency,
			conflict.CreatedAt,
		); err != nil {
			return err
		}
		if event != nil {
			return insertOutbox(ctx, tx, event)
		}
		return nil
	})
	if err != nil {
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to record payment conflict: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ListConflicts returns conflicts, newest first
func (r *PostgresPaymentRecordStore) ListConflicts(ctx context.Context, limit, offset int) ([]*domain.PaymentConflict, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.payment_record.list_conflicts")
	defer span.End()

	query := `
		SELECT id, booking_id, event_id, external_ref, booking_status, reason, amount, currency, created_at
		FROM payment_conflicts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*domain.PaymentConflict
	for rows.Next() {
		c := &domain.PaymentConflict{}
		var status, reason string
		if err := rows.Scan(
			&c.ID,
			&c.BookingID,
			&c.EventID,
			&c.ExternalRef,
			&status,
			&reason,
			&c.Amount,
			&c.Currency,
			&c.CreatedAt,
		); err != nil {
			telemetry.FailSpan(span, err)
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		c.BookingStatus = domain.BookingStatus(status)
		c.Reason = domain.ConflictReason(reason)
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to iterate conflicts: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return conflicts, nil
}
