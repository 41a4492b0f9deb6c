// Package rabbitmq is the RabbitMQ outbox sink. Events go to a durable topic
// exchange with the outbox topic as routing key and are confirmed by the
// broker before Deliver returns.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-course-trade/internal/logx"
	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

type Publisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	log      *zap.Logger

	// an amqp channel is not safe for concurrent publishes
	mu sync.Mutex
}

func Dial(url, exchange string, log *zap.Logger) (*Publisher, error) {
	log = logx.OrNop(log)
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq: enable confirms: %w", err)
	}
	log.Info("rabbitmq publisher ready", zap.String("exchange", exchange))
	return &Publisher{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

var errNacked = errors.New("rabbitmq: broker nacked message")

func (p *Publisher) Deliver(ctx context.Context, m outbox.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, p.exchange, m.Topic, false, false, publishing(m))
	if err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", m.EventType, err)
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq: confirm %s: %w", m.EventType, err)
	}
	if !acked {
		return fmt.Errorf("%w: %s", errNacked, m.ID)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.ch.Close(); err != nil {
		p.log.Warn("rabbitmq channel close", zap.Error(err))
	}
	return p.conn.Close()
}

func publishing(m outbox.Message) amqp.Publishing {
	headers := amqp.Table{}
	for k, v := range m.Headers() {
		headers[k] = v
	}
	// the partition key travels as a header; consumers use it for ordering
	headers["x-message-key"] = m.Key
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.ID,
		Type:         m.EventType,
		Timestamp:    m.CreatedAt,
		Headers:      headers,
		Body:         m.Payload,
	}
}
