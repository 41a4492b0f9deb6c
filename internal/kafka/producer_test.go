package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error { return nil }

func TestProducerDeliver(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w)
	m := outbox.NewMessage("trade.order.paid", "order-9", "OrderPaid", []byte(`{"payload":{"order_id":"order-9"}}`))

	require.NoError(t, p.Deliver(context.Background(), m))
	require.Len(t, w.msgs, 1)
	got := w.msgs[0]
	assert.Equal(t, "trade.order.paid", got.Topic)
	assert.Equal(t, []byte("order-9"), got.Key)
	assert.Equal(t, "OrderPaid", HeaderValue(got, outbox.HeaderEventType))
	assert.Equal(t, "1", HeaderValue(got, outbox.HeaderEventVersion))
	assert.Equal(t, m.ID, HeaderValue(got, outbox.HeaderEventID))
	assert.Empty(t, HeaderValue(got, "missing"))
}

func TestProducerDeliverWrapsError(t *testing.T) {
	cause := errors.New("not enough replicas")
	p := NewProducerWithWriter(&recordingWriter{err: cause})

	err := p.Deliver(context.Background(), outbox.NewMessage("t", "k", "OrderPaid", nil))
	assert.ErrorIs(t, err, cause)
}

func TestUnwrapPayload(t *testing.T) {
	type basic struct {
		OrderID string `json:"order_id"`
	}
	got, err := UnwrapPayload[basic](json.RawMessage(`{"order_id":"o1"}`))
	require.NoError(t, err)
	assert.Equal(t, "o1", got.OrderID)

	_, err = UnwrapPayload[basic](json.RawMessage(`{`))
	assert.Error(t, err)
}
