package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Routing keys for published events
const (
	RoutingKeyRollupCompleted = "rollup.completed"
	RoutingKeyRateChanged     = "rate.changed"
)

// EventPublisher publishes job events
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event interface{}) error
}

// NopPublisher is used when no broker is configured
type NopPublisher struct{}

// Publish discards the event
func (NopPublisher) Publish(context.Context, string, interface{}) error { return nil }

// RollupCompletedEvent is published after each daily rollup cycle
type RollupCompletedEvent struct {
	RunID          string `json:"run_id"`
	RunDate        string `json:"run_date"`
	Status         string `json:"status"`
	DevicesUpdated int    `json:"devices_updated"`
	UsersUpdated   int    `json:"users_updated"`
	Rollovers      int    `json:"rollovers"`
	Failures       int    `json:"failures"`
}

// RateChangedEvent is published when a new rate is stored
type RateChangedEvent struct {
	PreviousRate *float64 `json:"previous_rate"`
	Rate         float64  `json:"rate"`
	ArticleURL   string   `json:"article_url"`
}

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	mu       sync.Mutex
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish marshals event as JSON and publishes it with routingKey.
// amqp channels are not safe for concurrent publishing, so calls are
// serialized.
func (p *Publisher) Publish(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
