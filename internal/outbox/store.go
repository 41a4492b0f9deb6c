package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store used by the relay.
type PGStore struct{ DB *pgxpool.Pool }

// Claim leases up to limit due rows. Rows under a live lease are skipped, so
// concurrent relays never hold the same row at the same time.
func (s *PGStore) Claim(ctx context.Context, limit int, lease time.Duration) ([]Message, error) {
	now := time.Now().UTC()
	rows, err := s.DB.Query(ctx, `
		UPDATE outbox o SET locked_until = $2
		WHERE o.id IN (
			SELECT id FROM outbox
			WHERE status = 'pending'
			  AND next_attempt_at <= $1
			  AND (locked_until IS NULL OR locked_until < $1)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING o.id::text, o.topic, o.msg_key, o.event_type, o.payload, o.attempts, o.created_at`,
		now, now.Add(lease), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Key, &m.EventType, &m.Payload, &m.Attempts, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: claim rows: %w", err)
	}
	// RETURNING has no ordering guarantee.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *PGStore) MarkSent(ctx context.Context, id string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox SET status = 'sent', sent_at = NOW(), locked_until = NULL
		WHERE id = $1::uuid`, id)
	if err != nil {
		return fmt.Errorf("outbox: mark sent %s: %w", id, err)
	}
	return nil
}

func (s *PGStore) MarkRetry(ctx context.Context, id string, attempts int, next time.Time, lastErr string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox SET attempts = $2, next_attempt_at = $3, last_error = $4, locked_until = NULL
		WHERE id = $1::uuid`, id, attempts, next, lastErr)
	if err != nil {
		return fmt.Errorf("outbox: mark retry %s: %w", id, err)
	}
	return nil
}

func (s *PGStore) MarkDead(ctx context.Context, id string, attempts int, lastErr string) error {
	_, err := s.DB.Exec(ctx, `
		UPDATE outbox SET status = 'dead', attempts = $2, last_error = $3, locked_until = NULL
		WHERE id = $1::uuid`, id, attempts, lastErr)
	if err != nil {
		return fmt.Errorf("outbox: mark dead %s: %w", id, err)
	}
	return nil
}
