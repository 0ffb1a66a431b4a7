package queue

import (
	"context"

	"github.com/lemline/lemline/common/logger"
	kafka "github.com/segmentio/kafka-go"
)

// KafkaQueue is a thin contract-only adapter: one reader per Subscribe
// call, one shared writer for Publish. It does not tune consumer-group
// rebalancing or offer exactly-once delivery; the outbox pattern
// upstream already tolerates at-least-once redelivery.
type KafkaQueue struct {
	brokers []string
	groupID string
	writer  *kafka.Writer
	log     *logger.Logger
	readers []*kafka.Reader
}

// NewKafkaQueue dials no broker eagerly; connections are established
// lazily by the underlying kafka-go client on first use.
func NewKafkaQueue(brokers []string, groupID string, log *logger.Logger) *KafkaQueue {
	return &KafkaQueue{
		brokers: brokers,
		groupID: groupID,
		writer:  &kafka.Writer{Addr: kafka.TCP(brokers...), Balancer: &kafka.LeastBytes{}},
		log:     log,
	}
}

func (q *KafkaQueue) Publish(ctx context.Context, topic string, key string, message []byte) error {
	return q.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: message,
	})
}

func (q *KafkaQueue) Subscribe(ctx context.Context, topic string, handler MessageHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: q.brokers,
		GroupID: q.groupID,
		Topic:   topic,
	})
	q.readers = append(q.readers, reader)

	go func() {
		for {
			msg, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				q.log.Error("kafka read failed", "topic", topic, "error", err)
				continue
			}
			if err := handler(ctx, string(msg.Key), msg.Value); err != nil {
				q.log.Error("kafka message handler error", "topic", topic, "error", err)
			}
		}
	}()
	return nil
}

func (q *KafkaQueue) Close() error {
	for _, r := range q.readers {
		_ = r.Close()
	}
	return q.writer.Close()
}
