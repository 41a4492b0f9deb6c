package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-course-trade/internal/outbox"
)

const (
	EventOrderEnrolled = "OrderEnrolled"
	EventOrderPaid     = "OrderPaid"

	EventVersion = outbox.EventVersion
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// OrderBasic is what the enrollment service needs to grant or revoke access.
type OrderBasic struct {
	OrderID    string    `json:"order_id"`
	UserID     string    `json:"user_id"`
	CourseIDs  []string  `json:"course_ids"`
	FinishTime time.Time `json:"finish_time"`
}

// newEvent wraps p in an Envelope and returns it as an outbox row. The outbox
// row id and the envelope event id are the same value.
func newEvent(producer, topic, eventType string, p OrderBasic, now time.Time) (outbox.Message, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    now,
		Producer:      producer,
		CorrelationID: p.OrderID,
		Payload:       body,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return outbox.Message{}, fmt.Errorf("marshal %s envelope: %w", eventType, err)
	}
	m := outbox.NewMessage(topic, string(PartitionKey(p.OrderID)), eventType, raw)
	m.ID = env.EventID
	m.CreatedAt = now
	return m, nil
}
