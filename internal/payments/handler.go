// Package payments turns payment-gateway notifications into order payment
// confirmations. Notifications arrive from Kafka or over HTTP.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-course-trade/internal/kafka"
	"github.com/ariefcatur/go-course-trade/internal/logx"
	"github.com/ariefcatur/go-course-trade/internal/orders"
	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

// Notification is the settled-payment message of the payment service.
// OrderID is accepted as an alias of BizOrderID.
type Notification struct {
	BizOrderID  string    `json:"bizOrderId"`
	OrderID     string    `json:"orderId,omitempty"`
	SuccessTime time.Time `json:"successTime"`
	PayChannel  string    `json:"payChannel"`
	PayOrderNo  string    `json:"payOrderNo"`
}

func (n Notification) Result() orders.PaymentResult {
	id := n.BizOrderID
	if id == "" {
		id = n.OrderID
	}
	return orders.PaymentResult{OrderID: id, SettledAt: n.SuccessTime, Channel: n.PayChannel, PayOrderNo: n.PayOrderNo}
}

type Confirmer interface {
	OnPaymentConfirmed(ctx context.Context, p orders.PaymentResult) error
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

type Handler struct {
	orders Confirmer
	dedup  Deduper
	log    *zap.Logger
}

// NewHandler builds a handler. dedup may be nil; the payment ledger in the
// order store stays authoritative either way.
func NewHandler(c Confirmer, dedup Deduper, log *zap.Logger) *Handler {
	return &Handler{orders: c, dedup: dedup, log: logx.OrNop(log)}
}

// Apply confirms one notification. It returns an error only when retrying
// the same notification may succeed.
func (h *Handler) Apply(ctx context.Context, n Notification) error {
	p := n.Result()
	log := h.log.With(zap.String("order_id", p.OrderID), zap.String("pay_order_no", p.PayOrderNo))

	claimed := false
	if h.dedup != nil && p.PayOrderNo != "" {
		first, err := h.dedup.Claim(ctx, p.PayOrderNo)
		switch {
		case err != nil:
			log.Warn("dedup unavailable, relying on payment ledger", zap.Error(err))
		case !first:
			log.Debug("payment notification already processed")
			return nil
		default:
			claimed = true
		}
	}

	err := h.orders.OnPaymentConfirmed(ctx, p)
	if err == nil {
		return nil
	}
	if claimed {
		if rerr := h.dedup.Release(ctx, p.PayOrderNo); rerr != nil {
			log.Warn("dedup release failed", zap.Error(rerr))
		}
	}
	return err
}

type envelopeHead struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// HandleMessage is the kafka.Handler for the payment topic. Undecodable or
// invalid notifications are logged and acknowledged.
func (h *Handler) HandleMessage(ctx context.Context, m kafkago.Message) error {
	n, err := decode(m.Value)
	if err != nil {
		h.log.Warn("undecodable payment notification skipped",
			zap.Int64("offset", m.Offset), zap.ByteString("key", m.Key),
			zap.String("event_type", kafkax.HeaderValue(m, outbox.HeaderEventType)), zap.Error(err))
		return nil
	}
	err = h.Apply(ctx, n)
	if err != nil && orders.KindOf(err) == orders.KindValidation {
		h.log.Warn("invalid payment notification skipped", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	return err
}

// decode accepts a bare notification or one wrapped in an event envelope.
func decode(b []byte) (Notification, error) {
	var head envelopeHead
	if err := json.Unmarshal(b, &head); err != nil {
		return Notification{}, err
	}
	if len(head.Payload) > 0 {
		return kafkax.UnwrapPayload[Notification](head.Payload)
	}
	var n Notification
	if err := json.Unmarshal(b, &n); err != nil {
		return Notification{}, err
	}
	if n.BizOrderID == "" && n.OrderID == "" {
		return Notification{}, errors.New("notification without order id")
	}
	return n, nil
}
