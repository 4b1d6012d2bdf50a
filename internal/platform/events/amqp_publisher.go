// Package events publishes detection events to RabbitMQ for downstream
// review. Publishing is best effort: errors are logged and returned so the
// caller can ignore them without interrupting the request flow.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/tinywideclouds/go-presence-service/internal/location"
)

// AMQPDetectionPublisher publishes suspect-movement events to a durable
// RabbitMQ queue. Each publish dials its own short-lived connection; the
// event rate is far too low to justify connection pooling.
type AMQPDetectionPublisher struct {
	url       string
	queueName string
	logger    zerolog.Logger
}

// NewAMQPDetectionPublisher creates a publisher for the given broker URL
// and queue name.
func NewAMQPDetectionPublisher(url, queueName string, logger zerolog.Logger) (*AMQPDetectionPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("amqp url cannot be empty")
	}
	if queueName == "" {
		return nil, fmt.Errorf("amqp queue name cannot be empty")
	}
	return &AMQPDetectionPublisher{
		url:       url,
		queueName: queueName,
		logger:    logger.With().Str("component", "AMQPDetectionPublisher").Logger(),
	}, nil
}

// PublishSuspectMovement implements location.DetectionPublisher. Messages
// are marked persistent so they survive broker restarts.
func (p *AMQPDetectionPublisher) PublishSuspectMovement(ctx context.Context, ev location.SuspectMovement) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.logger.Error().Err(err).Msg("amqp dial failed")
		return fmt.Errorf("amqp dial failed: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.logger.Error().Err(err).Msg("amqp channel open failed")
		return fmt.Errorf("amqp channel open failed: %w", err)
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare so the queue exists before first publish.
	if _, err := ch.QueueDeclare(
		p.queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		p.logger.Error().Err(err).Msg("amqp queue declare failed")
		return fmt.Errorf("amqp queue declare failed: %w", err)
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal suspect movement event: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, pub); err != nil {
		p.logger.Error().Err(err).Msg("amqp publish failed")
		return fmt.Errorf("amqp publish failed: %w", err)
	}

	p.logger.Info().Str("user", ev.UserID).Float64("speed_mps", ev.SpeedMPS).Msg("Suspect movement event published")
	return nil
}
