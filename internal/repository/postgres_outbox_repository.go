package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errOutboxMessageNotFound = errors.New("outbox message not found")

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

var _ OutboxRepository = (*PostgresOutboxRepository)(nil)

// insertOutbox writes a message inside the caller's transaction
func insertOutbox(ctx context.Context, q execer, msg *domain.OutboxMessage) error {
	query := `
		INSERT INTO outbox (
			id, aggregate_id, event_type, topic, payload,
			status, retry_count, max_retries, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := q.Exec(ctx, query,
		msg.ID,
		msg.AggregateID,
		string(msg.EventType),
		msg.Topic,
		[]byte(msg.Payload),
		string(msg.Status),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// ClaimPending leases the oldest pending messages. SKIP LOCKED plus the lease
// lets several relays run without publishing the same row concurrently.
func (r *PostgresOutboxRepository) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]*domain.OutboxMessage, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.outbox.claim_pending")
	defer span.End()

	query := `
		UPDATE outbox SET locked_until = NOW() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE status = 'pending' AND (locked_until IS NULL OR locked_until < NOW())
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, aggregate_id, event_type, topic, payload, status,
			retry_count, max_retries, COALESCE(last_error, ''), created_at, published_at
	`

	rows, err := r.pool.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("failed to claim outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []*domain.OutboxMessage
	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var eventType, status string
		var payload []byte
		if err := rows.Scan(
			&msg.ID,
			&msg.AggregateID,
			&eventType,
			&msg.Topic,
			&payload,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&msg.LastError,
			&msg.CreatedAt,
			&msg.PublishedAt,
		); err != nil {
			telemetry.FailSpan(span, err)
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msg.EventType = domain.EventType(eventType)
		msg.Status = domain.OutboxStatus(status)
		msg.Payload = payload
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		telemetry.FailSpan(span, err)
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(messages)))
	span.SetStatus(codes.Ok, "")
	return messages, nil
}

// MarkAsPublished marks a message as successfully published
func (r *PostgresOutboxRepository) MarkAsPublished(ctx context.Context, id string) error {
	query := `
		UPDATE outbox SET status = 'published', published_at = NOW(), locked_until = NULL
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark message as published: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errOutboxMessageNotFound
	}
	return nil
}

// MarkAsFailed counts a failed attempt and frees the lease. Dead messages leave the pending set.
func (r *PostgresOutboxRepository) MarkAsFailed(ctx context.Context, id string, errMsg string, dead bool) error {
	query := `
		UPDATE outbox SET
			status = CASE WHEN $3 THEN 'failed' ELSE 'pending' END,
			last_error = $2,
			retry_count = retry_count + 1,
			locked_until = NULL
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query, id, errMsg, dead)
	if err != nil {
		return fmt.Errorf("failed to mark message as failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errOutboxMessageNotFound
	}
	return nil
}

// DeletePublished deletes published messages older than the cutoff
func (r *PostgresOutboxRepository) DeletePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx,
		`DELETE FROM outbox WHERE status = 'published' AND published_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

