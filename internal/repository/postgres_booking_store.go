package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/pkg/database"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	pgUniqueViolation        = "23505"
	activeBookingUniqueIndex = "uq_bookings_active_user_session"
)

// execer is satisfied by both *pgxpool.Pool and pgx.Tx
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresBookingStore implements BookingStore using PostgreSQL with pgxpool
type PostgresBookingStore struct {
	pool *pgxpool.Pool
}

// NewPostgresBookingStore creates a new PostgresBookingStore
func NewPostgresBookingStore(pool *pgxpool.Pool) *PostgresBookingStore {
	return &PostgresBookingStore{pool: pool}
}

var _ BookingStore = (*PostgresBookingStore)(nil)

const bookingColumns = `
	id, user_id, session_id, status, payment_status, amount_paid, currency,
	COALESCE(payment_ref, ''), COALESCE(failure_reason, ''), created_at, updated_at
`

// CreatePending inserts a pending booking and its outbox event atomically
func (r *PostgresBookingStore) CreatePending(ctx context.Context, booking *domain.Booking, event *domain.OutboxMessage) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.create_pending")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", booking.ID),
		attribute.String("user_id", booking.UserID),
		attribute.String("session_id", booking.SessionID),
	)

	query := `
		INSERT INTO bookings (
			id, user_id, session_id, status, payment_status,
			amount_paid, currency, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query,
			booking.ID,
			booking.UserID,
			booking.SessionID,
			booking.Status.String(),
			string(booking.PaymentStatus),
			booking.AmountPaid,
			booking.Currency,
			booking.CreatedAt,
			booking.UpdatedAt,
		); err != nil {
			return err
		}
		if event != nil {
			return insertOutbox(ctx, tx, event)
		}
		return nil
	})

	if err != nil {
		if isActiveBookingViolation(err) {
			span.SetStatus(codes.Error, "duplicate active booking")
			return domain.ErrDuplicateActiveBooking
		}
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to create booking: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// TransitionStatus is a single guarded UPDATE. It never reads the row first.
// The seat release and the outbox insert commit with it, so a booking can
// never leave the active set without its seat coming back.
func (r *PostgresBookingStore) TransitionStatus(ctx context.Context, bookingID string, from []domain.BookingStatus, to domain.BookingStatus, opts domain.TransitionOptions) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.transition_status")
	defer span.End()

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.String("to", to.String()),
		attribute.Bool("release_seat", opts.ReleaseSeat),
	)

	var reason *string
	if opts.Reason != "" {
		reason = &opts.Reason
	}

	query := `
		UPDATE bookings
		SET status = $3,
			payment_status = CASE payment_status
				WHEN 'paid' THEN $4
				WHEN 'pending' THEN $5
				ELSE payment_status
			END,
			failure_reason = COALESCE($6, failure_reason),
			updated_at = NOW()
		WHERE id = $1 AND status = ANY($2)
		RETURNING session_id
	`
	args := []any{
		bookingID,
		statusStrings(from),
		to.String(),
		string(domain.PaymentStatusAfter(to, domain.BookingPaymentPaid)),
		string(domain.PaymentStatusAfter(to, domain.BookingPaymentPending)),
		reason,
	}

	var applied bool
	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var sessionID string
		err := tx.QueryRow(ctx, query, args...).Scan(&sessionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		applied = true

		if opts.ReleaseSeat {
			if _, err := tx.Exec(ctx, `
				UPDATE sessions
				SET current_capacity = current_capacity - 1, updated_at = NOW()
				WHERE id = $1 AND current_capacity > 0
			`, sessionID); err != nil {
				return fmt.Errorf("failed to release seat: %w", err)
			}
		}
		if opts.Event != nil {
			return insertOutbox(ctx, tx, opts.Event)
		}
		return nil
	})
	if err != nil {
		telemetry.FailSpan(span, err)
		return false, fmt.Errorf("failed to transition booking: %w", err)
	}

	span.SetAttributes(attribute.Bool("applied", applied))
	span.SetStatus(codes.Ok, "")
	return applied, nil
}

// Get retrieves a booking by its ID
func (r *PostgresBookingStore) Get(ctx context.Context, bookingID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.get")
	defer span.End()

	span.SetAttributes(attribute.String("booking_id", bookingID))

	rows, err := r.pool.Query(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}
	if len(bookings) == 0 {
		span.SetStatus(codes.Error, "not found")
		return nil, domain.ErrBookingNotFound
	}

	span.SetStatus(codes.Ok, "")
	return bookings[0], nil
}

// ListByUser retrieves bookings by user ID with pagination
func (r *PostgresBookingStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.list_by_user")
	defer span.End()

	span.SetAttributes(attribute.String("user_id", userID))

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

// SetPaymentRef stores the processor reference on the booking
func (r *PostgresBookingStore) SetPaymentRef(ctx context.Context, bookingID, ref string) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.set_payment_ref")
	defer span.End()

	result, err := r.pool.Exec(ctx,
		`UPDATE bookings SET payment_ref = $2, updated_at = NOW() WHERE id = $1`,
		bookingID, ref,
	)
	if err != nil {
		telemetry.FailSpan(span, err)
		return fmt.Errorf("failed to set payment ref: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrBookingNotFound
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// FindStalePending returns the oldest pending bookings created before olderThan
func (r *PostgresBookingStore) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.booking.find_stale_pending")
	defer span.End()

	query := `SELECT ` + bookingColumns + `
		FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to find stale bookings: %w", err)
	}
	bookings, err := scanBookings(rows)
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.Int("count", len(bookings)))
	span.SetStatus(codes.Ok, "")
	return bookings, nil
}

func scanBookings(rows pgx.Rows) ([]*domain.Booking, error) {
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b := &domain.Booking{}
		var status, paymentStatus string
		if err := rows.Scan(
			&b.ID,
			&b.UserID,
			&b.SessionID,
			&status,
			&paymentStatus,
			&b.AmountPaid,
			&b.Currency,
			&b.PaymentRef,
			&b.FailureReason,
			&b.CreatedAt,
			&b.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		b.Status = domain.BookingStatus(status)
		b.PaymentStatus = domain.BookingPaymentStatus(paymentStatus)
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}

func isActiveBookingViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return false
	}
	return pgErr.ConstraintName == "" || pgErr.ConstraintName == activeBookingUniqueIndex
}

func statusStrings(statuses []domain.BookingStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}
