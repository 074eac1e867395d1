package amqp

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// MessageHandler handles one delivery and is responsible for acking it
type MessageHandler interface {
	Handle(ctx context.Context, delivery *amqp.Delivery)
}

// Consumer feeds deliveries from a queue to a handler
type Consumer struct {
	client  *Client
	handler MessageHandler
	logger  *zap.Logger
	done    chan struct{}
}

// NewConsumer creates a new consumer
func NewConsumer(client *Client, handler MessageHandler, logger *zap.Logger) *Consumer {
	return &Consumer{
		client:  client,
		handler: handler,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Consume starts consuming queue in the background until ctx is cancelled.
// prefetch bounds the unacknowledged deliveries held by this consumer.
func (c *Consumer) Consume(ctx context.Context, queue string, prefetch int) error {
	ch := c.client.Channel()

	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		queue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	c.logger.Info("Started consuming messages", zap.String("queue", queue), zap.Int("prefetch", prefetch))

	go c.run(ctx, msgs)
	return nil
}

// Done is closed once the consumer stops delivering to its handler
func (c *Consumer) Done() <-chan struct{} {
	return c.done
}

func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Consumer stopped")
			return
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn("Delivery channel closed")
				return
			}
			c.logger.Debug("Processing delivery",
				zap.String("routing_key", msg.RoutingKey),
				zap.String("message_id", msg.MessageId))
			c.handler.Handle(ctx, &msg)
		}
	}
}
