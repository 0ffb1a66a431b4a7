package queue

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/lemline/lemline/common/logger"
)

// RabbitMQQueue is a thin contract-only adapter over a single AMQP
// connection: Publish/Subscribe each declare the topic as a durable
// queue of the same name (no exchange routing, no consumer-group
// equivalent — RabbitMQ's own competing-consumers semantics on a named
// queue cover that).
type RabbitMQQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	log  *logger.Logger
}

// NewRabbitMQQueue dials url and opens one channel shared by every
// Publish/Subscribe call.
func NewRabbitMQQueue(url string, log *logger.Logger) (*RabbitMQQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &RabbitMQQueue{conn: conn, ch: ch, log: log}, nil
}

func (q *RabbitMQQueue) declare(topic string) (amqp.Queue, error) {
	return q.ch.QueueDeclare(topic, true, false, false, false, nil)
}

func (q *RabbitMQQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	if _, err := q.declare(topic); err != nil {
		return err
	}
	return q.ch.PublishWithContext(ctx, "", topic, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        message,
		MessageId:   key,
	})
}

func (q *RabbitMQQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	if _, err := q.declare(topic); err != nil {
		return err
	}
	deliveries, err := q.ch.Consume(topic, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := handler(ctx, d.MessageId, d.Body); err != nil {
					q.log.Error("rabbitmq message handler error", "topic", topic, "error", err)
					_ = d.Nack(false, true)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()
	return nil
}

func (q *RabbitMQQueue) Close() error {
	_ = q.ch.Close()
	return q.conn.Close()
}
