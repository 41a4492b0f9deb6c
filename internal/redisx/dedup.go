package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed message ids per service.
type Dedup struct {
	rdb     *redis.Client
	service string
	ttl     time.Duration
}

func NewDedup(rdb *redis.Client, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service, ttl: TTLDedup}
}

// Claim marks id as processed and reports whether this call was the first.
func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: dedup claim %s: %w", id, err)
	}
	return ok, nil
}

// Release undoes Claim so a failed message can be processed again.
func (d *Dedup) Release(ctx context.Context, id string) error {
	if err := d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err(); err != nil {
		return fmt.Errorf("redis: dedup release %s: %w", id, err)
	}
	return nil
}
