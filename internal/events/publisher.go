// Package events publishes committed order lifecycle changes to Kafka.
// Publishing is best-effort: it happens after the database commit and
// failures are logged, never surfaced to the request that caused them.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// OrderEvent is the wire form of an order lifecycle change.
type OrderEvent struct {
	Type       string    `json:"type"` // ORDER_CREATED, ORDER_PAID, ORDER_CANCELLED
	OrderID    int64     `json:"orderId"`
	Status     string    `json:"status"`
	Total      string    `json:"total"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher emits order events. A nil *KafkaPublisher is a valid no-op
// publisher, so wiring can leave events disabled without nil checks at
// every call site.
type Publisher interface {
	PublishOrderEvent(ctx context.Context, ev OrderEvent)
}

// KafkaPublisher writes order events to a Kafka topic keyed by order id.
type KafkaPublisher struct {
	writer *kafka.Writer
	lg     *zap.Logger
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, lg *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 10 * time.Millisecond,
		},
		lg: lg,
	}
}

// PublishOrderEvent implements Publisher. Errors are logged and dropped.
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, ev OrderEvent) {
	if p == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.lg.Error("marshal order event", zap.Error(err))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: data,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		p.lg.Error("publish order event",
			zap.String("type", ev.Type),
			zap.Int64("order_id", ev.OrderID),
			zap.Error(err),
		)
	}
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}
