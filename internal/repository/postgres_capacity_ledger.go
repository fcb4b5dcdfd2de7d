package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// PostgresCapacityLedger implements CapacityLedger on the sessions table
type PostgresCapacityLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresCapacityLedger creates a new PostgresCapacityLedger
func NewPostgresCapacityLedger(pool *pgxpool.Pool) *PostgresCapacityLedger {
	return &PostgresCapacityLedger{pool: pool}
}

var _ CapacityLedger = (*PostgresCapacityLedger)(nil)

// TryReserve increments current_capacity only while a seat is free
func (r *PostgresCapacityLedger) TryReserve(ctx context.Context, sessionID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.try_reserve")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	query := `
		UPDATE sessions
		SET current_capacity = current_capacity + 1, updated_at = NOW()
		WHERE id = $1 AND NOT is_cancelled AND current_capacity < max_capacity
	`

	result, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to reserve capacity: %w", err)
	}
	if result.RowsAffected() == 1 {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	// The update is the decision; this read only explains the refusal.
	reason := r.classifyRefusal(ctx, sessionID)
	span.SetAttributes(attribute.String("refusal", reason.Error()))
	return reason
}

func (r *PostgresCapacityLedger) classifyRefusal(ctx context.Context, sessionID string) error {
	var cancelled bool
	err := r.pool.QueryRow(ctx, `SELECT is_cancelled FROM sessions WHERE id = $1`, sessionID).Scan(&cancelled)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrSessionNotFound
	case err != nil:
		return fmt.Errorf("failed to classify reservation refusal: %w", err)
	case cancelled:
		return domain.ErrSessionCancelled
	default:
		return domain.ErrCapacityExceeded
	}
}

// Release decrements current_capacity, clamped at zero
func (r *PostgresCapacityLedger) Release(ctx context.Context, sessionID string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.release")
	defer span.End()

	span.SetAttributes(attribute.String("session_id", sessionID))

	query := `
		UPDATE sessions
		SET current_capacity = current_capacity - 1, updated_at = NOW()
		WHERE id = $1 AND current_capacity > 0
	`

	result, err := r.pool.Exec(ctx, query, sessionID)
	if err != nil {
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to release capacity: %w", err)
	}
	span.SetAttributes(attribute.Int64("rows_affected", result.RowsAffected()))
	span.SetStatus(codes.Ok, "")
	return nil
}

// GetSession retrieves a session by ID
func (r *PostgresCapacityLedger) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.capacity.get_session")
	defer span.End()

	query := `
		SELECT id, program_id, starts_at, ends_at, max_capacity, current_capacity,
			is_cancelled, price_amount, currency, created_at, updated_at
		FROM sessions
		WHERE id = $1
	`

	s := &domain.Session{}
	err := r.pool.QueryRow(ctx, query, sessionID).Scan(
		&s.ID,
		&s.ProgramID,
		&s.StartsAt,
		&s.EndsAt,
		&s.MaxCapacity,
		&s.CurrentCapacity,
		&s.IsCancelled,
		&s.PriceAmount,
		&s.Currency,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrSessionNotFound
		}
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return s, nil
}
