package amqp

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Defaults used when the configuration leaves the topology empty
const (
	DefaultExchange          = "phish.events"
	DefaultQueue             = "message.analysis"
	DefaultRequestRoutingKey = "message.scan.requested"
	DefaultResultRoutingKey  = "message.scan.completed"
)

// TopologyManager declares the exchange, queue and binding the worker relies on
type TopologyManager struct {
	client *Client
	logger *zap.Logger
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(client *Client, logger *zap.Logger) *TopologyManager {
	return &TopologyManager{
		client: client,
		logger: logger,
	}
}

// Setup declares a durable topic exchange and queue and binds them on routingKey
func (t *TopologyManager) Setup(exchange, queue, routingKey string) error {
	ch := t.client.Channel()

	if err := t.declareExchange(ch, exchange); err != nil {
		return err
	}
	if err := t.declareQueue(ch, queue); err != nil {
		return err
	}
	if err := t.bindQueue(ch, queue, exchange, routingKey); err != nil {
		return err
	}

	t.logger.Info("AMQP topology ready",
		zap.String("exchange", exchange),
		zap.String("queue", queue),
		zap.String("routing_key", routingKey))
	return nil
}

func (t *TopologyManager) declareExchange(ch *amqp.Channel, name string) error {
	err := ch.ExchangeDeclare(
		name,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange '%s': %w", name, err)
	}
	return nil
}

func (t *TopologyManager) declareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue '%s': %w", name, err)
	}
	return nil
}

func (t *TopologyManager) bindQueue(ch *amqp.Channel, queue, exchange, routingKey string) error {
	if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue '%s' to exchange '%s' with routing key '%s': %w",
			queue, exchange, routingKey, err)
	}
	return nil
}
