package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// DeadLetter is a message that exhausted its delivery attempts
type DeadLetter struct {
	MessageID      string          `json:"message_id"`
	OriginalTopic  string          `json:"original_topic"`
	OriginalKey    string          `json:"original_key"`
	EventType      string          `json:"event_type,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	Error          string          `json:"error"`
	Attempts       int             `json:"attempts"`
	FirstAttemptAt time.Time       `json:"first_attempt_at"`
	DeadLetteredAt time.Time       `json:"dead_lettered_at"`
	Source         string          `json:"source"`
}

// DLQPublisher publishes dead letters
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DeadLetter) error
	DLQTopic(originalTopic string) string
}

// Publisher is the broker-level sink a DLQ writes through
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte, headers map[string]string) error
}

// DLQConfig contains configuration for DLQ publishing
type DLQConfig struct {
	// TopicSuffix is appended to the original topic (default: ".dlq")
	TopicSuffix string
	// Source names the service that dead-lettered the message
	Source string
}

// DefaultDLQConfig returns default DLQ configuration
func DefaultDLQConfig() *DLQConfig {
	return &DLQConfig{
		TopicSuffix: ".dlq",
		Source:      "booking-engine",
	}
}

// BrokerDLQPublisher writes dead letters to "<topic><suffix>" on the same broker
type BrokerDLQPublisher struct {
	publisher Publisher
	config    *DLQConfig
}

// NewBrokerDLQPublisher creates a DLQ publisher on top of a broker publisher
func NewBrokerDLQPublisher(publisher Publisher, config *DLQConfig) *BrokerDLQPublisher {
	if config == nil {
		config = DefaultDLQConfig()
	}
	return &BrokerDLQPublisher{publisher: publisher, config: config}
}

// PublishToDLQ publishes a dead letter
func (p *BrokerDLQPublisher) PublishToDLQ(ctx context.Context, msg *DeadLetter) error {
	if msg == nil {
		return fmt.Errorf("dead letter cannot be nil")
	}

	msg.DeadLetteredAt = time.Now()
	msg.Source = p.config.Source

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	headers := map[string]string{
		"content_type":     "application/json",
		"original_topic":   msg.OriginalTopic,
		"attempts":         strconv.Itoa(msg.Attempts),
		"dead_lettered_at": msg.DeadLetteredAt.Format(time.RFC3339),
		"source":           msg.Source,
	}
	if msg.EventType != "" {
		headers["event_type"] = msg.EventType
	}

	return p.publisher.Publish(ctx, p.DLQTopic(msg.OriginalTopic), msg.OriginalKey, body, headers)
}

// DLQTopic returns the DLQ topic name for a given original topic
func (p *BrokerDLQPublisher) DLQTopic(originalTopic string) string {
	return originalTopic + p.config.TopicSuffix
}

// NoOpDLQPublisher drops dead letters. Used when no broker is configured.
type NoOpDLQPublisher struct{}

// PublishToDLQ does nothing
func (NoOpDLQPublisher) PublishToDLQ(context.Context, *DeadLetter) error { return nil }

// DLQTopic returns the DLQ topic name
func (NoOpDLQPublisher) DLQTopic(originalTopic string) string {
	return originalTopic + DefaultDLQConfig().TopicSuffix
}
