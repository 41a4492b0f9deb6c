// Package outbox stores integration events in the same transaction as the
// state change that produced them and relays them to a broker afterwards.
//
// Delivery is at-least-once: a row is only marked sent after the sink
// acknowledged it, so a crash between the two republishes it.
package outbox

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// EventVersion is the envelope schema version carried in message headers.
const EventVersion = 1

const (
	HeaderEventID      = "x-event-id"
	HeaderEventType    = "x-event-type"
	HeaderEventVersion = "x-event-version"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusDead    = "dead"
)

// Message is one row of the outbox table.
type Message struct {
	ID        string
	Topic     string
	Key       string
	EventType string
	Payload   []byte
	Attempts  int
	CreatedAt time.Time
}

func NewMessage(topic, key, eventType string, payload []byte) Message {
	return Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       key,
		EventType: eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// Headers are attached to the broker message by every sink.
func (m Message) Headers() map[string]string {
	return map[string]string{
		HeaderEventID:      m.ID,
		HeaderEventType:    m.EventType,
		HeaderEventVersion: strconv.Itoa(EventVersion),
	}
}

// Execer is satisfied by pgx.Tx, *pgxpool.Pool and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Insert writes m through db. Callers pass the transaction that carries the
// state change so both commit or neither does.
func Insert(ctx context.Context, db Execer, m Message) error {
	_, err := db.Exec(ctx, `
		INSERT INTO outbox (id, topic, msg_key, event_type, payload, status, created_at, next_attempt_at)
		VALUES ($1::uuid, $2, $3, $4, $5, 'pending', $6, $6)`,
		m.ID, m.Topic, m.Key, m.EventType, m.Payload, m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("outbox: insert %s: %w", m.EventType, err)
	}
	return nil
}
