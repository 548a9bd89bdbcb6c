package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/therealutkarshpriyadarshi/delivery/internal/config"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

const (
	ExchangeName = "delivery"

	// Routing keys for delivery events
	RoutingKeyQualityDecision = "decision.quality"
	RoutingKeyProviderChoice  = "decision.provider"
	RoutingKeyProviderStatus  = "provider.status"
)

// ProviderStatusEvent is published whenever a provider's health status
// transitions, so downstream consumers can react without polling.
type ProviderStatusEvent struct {
	Provider  string    `json:"provider"`
	OldStatus string    `json:"old_status"`
	NewStatus string    `json:"new_status"`
	Score     float64   `json:"score"`
	ChangedAt time.Time `json:"changed_at"`
}

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// New creates a new queue client
func New(cfg config.QueueConfig) (*Queue, error) {
	url := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Topic exchange: consumers bind to decision.* or provider.* as needed
	err = channel.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Queue{
		conn:    conn,
		channel: channel,
	}, nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// PublishDecision publishes a delivery decision event
func (q *Queue) PublishDecision(ctx context.Context, decision *models.DeliveryDecision) error {
	routingKey := RoutingKeyQualityDecision
	if decision.PrimaryProvider != "" {
		routingKey = RoutingKeyProviderChoice
	}
	return q.publish(ctx, routingKey, decision)
}

// PublishProviderStatus publishes a provider status transition event
func (q *Queue) PublishProviderStatus(ctx context.Context, event *ProviderStatusEvent) error {
	return q.publish(ctx, RoutingKeyProviderStatus, event)
}

func (q *Queue) publish(ctx context.Context, routingKey string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Consume binds an ephemeral queue to the given routing pattern and hands
// each message body to the handler. The handler returning an error requeues
// the message once.
func (q *Queue) Consume(ctx context.Context, pattern string, handler func([]byte) error) error {
	// Set QoS to limit concurrent processing
	err := q.channel.Qos(
		1,     // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	queue, err := q.channel.QueueDeclare(
		"",    // server-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = q.channel.QueueBind(
		queue.Name,
		pattern,
		ExchangeName,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	msgs, err := q.channel.Consume(
		queue.Name,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				if err := handler(msg.Body); err != nil {
					msg.Nack(false, !msg.Redelivered)
				} else {
					msg.Ack(false)
				}
			}
		}
	}()

	return nil
}
