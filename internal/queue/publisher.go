package queue

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ TransitionPublisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher emits transitions to the attendance.transitions topic exchange.
type RabbitMQPublisher struct {
	client *RabbitMQ
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client}
}

func (p *RabbitMQPublisher) PublishTransition(ctx context.Context, msg TransitionMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid transition message: %w", err)
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal transition message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	publishing := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     msg.OccurredAt.UTC(),
		MessageId:     fmt.Sprintf("%s:%s:%s", msg.Kind, msg.EntityID, msg.To),
		CorrelationId: msg.CorrelationID,
		Type:          string(msg.Kind),
		Body:          payload,
	}

	if err := ch.PublishWithContext(ctx, TransitionExchange, msg.RoutingKey(), false, false, publishing); err != nil {
		return fmt.Errorf("failed to publish transition %q: %w", msg.RoutingKey(), err)
	}

	return nil
}

func (p *RabbitMQPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
