package di

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/program-booking-engine/internal/worker"
	"github.com/prohmpiriya/program-booking-engine/pkg/config"
	"github.com/prohmpiriya/program-booking-engine/pkg/kafka"
	"github.com/prohmpiriya/program-booking-engine/pkg/rabbitmq"
)

// NewEventPublisher connects the broker selected by EVENTS_BROKER.
// It returns a nil publisher for "none".
func NewEventPublisher(ctx context.Context, cfg *config.Config) (worker.EventPublisher, func(), error) {
	switch cfg.Events.Broker {
	case "kafka":
		p, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "rabbitmq":
		p, err := rabbitmq.NewPublisher(rabbitmq.PublisherConfig{
			URL:      cfg.RabbitMQ.URL,
			Exchange: cfg.RabbitMQ.Exchange,
		})
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	case "none", "":
		return nil, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown events broker: %s", cfg.Events.Broker)
	}
}
