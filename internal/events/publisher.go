// Package events publishes proctoring outcomes to the grading pipeline over
// a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const ExchangeName = "proctoring.events"

// Publisher is what the engine depends on.
type Publisher interface {
	PublishSessionStarted(ctx context.Context, ev *SessionEvent) error
	PublishSessionEnded(ctx context.Context, ev *SessionEvent) error
	PublishTrustUpdated(ctx context.Context, ev *TrustEvent) error
	Close() error
}

// AMQPPublisher implements Publisher on RabbitMQ. With an empty URL it is
// disabled and every publish is a logged no-op.
type AMQPPublisher struct {
	mu           sync.Mutex
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	enabled      bool
	logger       *slog.Logger
}

// NewAMQPPublisher dials rabbitURI and declares the topic exchange.
func NewAMQPPublisher(rabbitURI string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if rabbitURI == "" {
		logger.Warn("RABBITMQ_URL is empty, event publishing is disabled")
		return &AMQPPublisher{enabled: false, logger: logger}, nil
	}

	conn, err := amqp091.Dial(rabbitURI)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		ExchangeName, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:         conn,
		channel:      channel,
		exchangeName: ExchangeName,
		enabled:      true,
		logger:       logger,
	}, nil
}

// Enabled reports whether messages actually leave the process.
func (p *AMQPPublisher) Enabled() bool { return p.enabled }

func (p *AMQPPublisher) publishEvent(ctx context.Context, routingKey string, event interface{}) error {
	if !p.enabled {
		p.logger.Debug("event publishing disabled, skipping", "routing_key", routingKey)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// amqp channels are not safe for concurrent publishes.
	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(
		pubCtx,
		p.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published event", "routing_key", routingKey)
	return nil
}

func (p *AMQPPublisher) PublishSessionStarted(ctx context.Context, ev *SessionEvent) error {
	return p.publishEvent(ctx, string(EventTypeSessionStarted), ev)
}

func (p *AMQPPublisher) PublishSessionEnded(ctx context.Context, ev *SessionEvent) error {
	return p.publishEvent(ctx, string(EventTypeSessionEnded), ev)
}

func (p *AMQPPublisher) PublishTrustUpdated(ctx context.Context, ev *TrustEvent) error {
	return p.publishEvent(ctx, string(EventTypeTrustUpdated), ev)
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
