package kafka

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer is the Kafka outbox sink. Writes are synchronous and wait for all
// in-sync replicas, so a nil error means the event is durable.
type Producer struct {
	w Writer
}

func NewProducer(brokers []string) *Producer {
	return &Producer{w: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}}
}

func NewProducerWithWriter(w Writer) *Producer { return &Producer{w: w} }

func (p *Producer) Deliver(ctx context.Context, m outbox.Message) error {
	msg := kafka.Message{
		Topic:   m.Topic,
		Key:     []byte(m.Key),
		Value:   m.Payload,
		Time:    m.CreatedAt,
		Headers: toHeaders(m.Headers()),
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write %s to %s: %w", m.EventType, m.Topic, err)
	}
	return nil
}

func (p *Producer) Close() error { return p.w.Close() }

func toHeaders(h map[string]string) []kafka.Header {
	out := make([]kafka.Header, 0, len(h))
	for k, v := range h {
		out = append(out, kafka.Header{Key: k, Value: []byte(v)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
