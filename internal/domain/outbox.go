package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultEventsTopic is where lifecycle events are published
const DefaultEventsTopic = "booking-events"

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// IsValid checks if the status is a valid OutboxStatus
func (s OutboxStatus) IsValid() bool {
	switch s {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed:
		return true
	}
	return false
}

// OutboxMessage is a lifecycle event waiting to be relayed to the broker
type OutboxMessage struct {
	ID          string          `json:"id"`
	AggregateID string          `json:"aggregate_id"`
	EventType   EventType       `json:"event_type"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	Status      OutboxStatus    `json:"status"`
	RetryCount  int             `json:"retry_count"`
	MaxRetries  int             `json:"max_retries"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	PublishedAt *time.Time      `json:"published_at,omitempty"`
}

// NewOutboxMessage creates a pending outbox message
func NewOutboxMessage(aggregateID string, eventType EventType, topic string, payload interface{}) (*OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = DefaultEventsTopic
	}
	return &OutboxMessage{
		ID:          uuid.NewString(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Topic:       topic,
		Payload:     data,
		Status:      OutboxStatusPending,
		MaxRetries:  5,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// CanRetry checks if the message can be retried
func (m *OutboxMessage) CanRetry() bool {
	return m.RetryCount < m.MaxRetries
}

// MarkAsPublished marks the message as successfully published
func (m *OutboxMessage) MarkAsPublished() {
	now := time.Now().UTC()
	m.Status = OutboxStatusPublished
	m.PublishedAt = &now
}

// MarkAsFailed records a failed publish attempt
func (m *OutboxMessage) MarkAsFailed(err string) {
	m.Status = OutboxStatusFailed
	m.LastError = err
	m.RetryCount++
}
