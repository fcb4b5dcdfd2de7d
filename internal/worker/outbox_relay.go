package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/program-booking-engine/internal/domain"
	"github.com/prohmpiriya/program-booking-engine/internal/metrics"
	"github.com/prohmpiriya/program-booking-engine/internal/repository"
	"github.com/prohmpiriya/program-booking-engine/pkg/logger"
	"github.com/prohmpiriya/program-booking-engine/pkg/retry"
	"go.uber.org/zap"
)

// EventPublisher is the broker sink for relayed events. Both the Kafka
// producer and the RabbitMQ publisher satisfy it.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// OutboxRelayConfig contains configuration for the outbox relay
type OutboxRelayConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to claim per poll
	BatchSize int
	// Lease is how long a claimed message is hidden from other relays
	Lease time.Duration
	// MaxRetries overrides the per-message limit when positive
	MaxRetries int
	// CleanupInterval is the interval between deleting old published messages
	CleanupInterval time.Duration
	// RetentionPeriod is how long published messages are kept
	RetentionPeriod time.Duration
	// Source is stamped on every published message
	Source string
}

// DefaultOutboxRelayConfig returns default configuration
func DefaultOutboxRelayConfig() *OutboxRelayConfig {
	return &OutboxRelayConfig{
		PollInterval:    500 * time.Millisecond,
		BatchSize:       100,
		Lease:           30 * time.Second,
		CleanupInterval: time.Hour,
		RetentionPeriod: 7 * 24 * time.Hour,
		Source:          "booking-engine",
	}
}

// OutboxRelay publishes outbox messages written alongside booking transitions
type OutboxRelay struct {
	outbox    repository.OutboxRepository
	publisher EventPublisher
	dlq       retry.DLQPublisher
	config    *OutboxRelayConfig
	log       *logger.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool

	published    int64
	failed       int64
	deadLettered int64
	lastPollTime time.Time
}

// NewOutboxRelay creates a new outbox relay. A nil dlq drops dead messages
// after marking them failed.
func NewOutboxRelay(outbox repository.OutboxRepository, publisher EventPublisher, dlq retry.DLQPublisher, config *OutboxRelayConfig) *OutboxRelay {
	if config == nil {
		config = DefaultOutboxRelayConfig()
	}
	if dlq == nil {
		dlq = retry.NoOpDLQPublisher{}
	}
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		dlq:       dlq,
		config:    config,
		log:       logger.Get().Named("outbox-relay"),
		stopCh:    make(chan struct{}),
	}
}

// Start starts the relay
func (w *OutboxRelay) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox relay already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting outbox relay", zap.Duration("poll_interval", w.config.PollInterval))

	w.wg.Add(2)
	go w.pollLoop(ctx)
	go w.cleanupLoop(ctx)
	return nil
}

// Stop stops the relay
func (w *OutboxRelay) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Outbox relay stopped")
}

func (w *OutboxRelay) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.RelayOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RelayOnce(ctx)
		}
	}
}

func (w *OutboxRelay) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Cleanup(ctx)
		}
	}
}

// RelayOnce claims one batch and publishes it. It returns the number published.
func (w *OutboxRelay) RelayOnce(ctx context.Context) int {
	w.mu.Lock()
	w.lastPollTime = time.Now()
	w.mu.Unlock()

	messages, err := w.outbox.ClaimPending(ctx, w.config.BatchSize, w.config.Lease)
	if err != nil {
		w.log.Error("Failed to claim outbox messages", zap.Error(err))
		return 0
	}

	published := 0
	for _, msg := range messages {
		if w.relay(ctx, msg) {
			published++
		}
	}
	return published
}

func (w *OutboxRelay) relay(ctx context.Context, msg *domain.OutboxMessage) bool {
	err := w.publisher.Publish(ctx, msg.Topic, msg.AggregateID, msg.Payload, w.headers(msg))
	if err == nil {
		if markErr := w.outbox.MarkAsPublished(ctx, msg.ID); markErr != nil {
			// The lease expires and the message is sent again; consumers dedupe on message_id.
			w.log.Error("Failed to mark message as published", zap.String("message_id", msg.ID), zap.Error(markErr))
		}
		w.count(&w.published)
		metrics.RecordOutbox("published")
		return true
	}

	dead := !w.canRetry(msg)
	w.log.Warn("Failed to publish outbox message",
		zap.String("message_id", msg.ID),
		zap.String("event_type", string(msg.EventType)),
		zap.Int("attempt", msg.RetryCount+1),
		zap.Bool("dead", dead),
		zap.Error(err),
	)

	if dead {
		w.deadLetter(ctx, msg, err)
	}
	if markErr := w.outbox.MarkAsFailed(ctx, msg.ID, err.Error(), dead); markErr != nil {
		w.log.Error("Failed to mark message as failed", zap.String("message_id", msg.ID), zap.Error(markErr))
	}
	if dead {
		w.count(&w.deadLettered)
		metrics.RecordOutbox("dead")
	} else {
		w.count(&w.failed)
		metrics.RecordOutbox("retry")
	}
	return false
}

// canRetry reports whether another attempt is allowed after the current failure
func (w *OutboxRelay) canRetry(msg *domain.OutboxMessage) bool {
	limit := msg.MaxRetries
	if w.config.MaxRetries > 0 {
		limit = w.config.MaxRetries
	}
	return msg.RetryCount+1 < limit
}

func (w *OutboxRelay) deadLetter(ctx context.Context, msg *domain.OutboxMessage, cause error) {
	dl := &retry.DeadLetter{
		MessageID:      msg.ID,
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.AggregateID,
		EventType:      string(msg.EventType),
		Payload:        msg.Payload,
		Error:          cause.Error(),
		Attempts:       msg.RetryCount + 1,
		FirstAttemptAt: msg.CreatedAt,
	}
	if err := w.dlq.PublishToDLQ(ctx, dl); err != nil {
		w.log.Error("Failed to dead-letter outbox message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (w *OutboxRelay) headers(msg *domain.OutboxMessage) map[string]string {
	return map[string]string{
		"message_id":   msg.ID,
		"event_type":   string(msg.EventType),
		"aggregate_id": msg.AggregateID,
		"content_type": "application/json",
		"source":       w.config.Source,
	}
}

// Cleanup deletes published messages past the retention period
func (w *OutboxRelay) Cleanup(ctx context.Context) int64 {
	deleted, err := w.outbox.DeletePublished(ctx, time.Now().Add(-w.config.RetentionPeriod))
	if err != nil {
		w.log.Error("Failed to clean up outbox", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		w.log.Info("Cleaned up published outbox messages", zap.Int64("deleted", deleted))
	}
	return deleted
}

func (w *OutboxRelay) count(n *int64) {
	w.mu.Lock()
	*n++
	w.mu.Unlock()
}

// GetStats returns relay statistics
func (w *OutboxRelay) GetStats() *OutboxRelayStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &OutboxRelayStats{
		IsRunning:    w.running,
		Published:    w.published,
		Failed:       w.failed,
		DeadLettered: w.deadLettered,
		LastPollTime: w.lastPollTime,
	}
}

// OutboxRelayStats contains relay statistics
type OutboxRelayStats struct {
	IsRunning    bool      `json:"is_running"`
	Published    int64     `json:"published"`
	Failed       int64     `json:"failed"`
	DeadLettered int64     `json:"dead_lettered"`
	LastPollTime time.Time `json:"last_poll_time"`
}
