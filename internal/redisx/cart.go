package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type CartStore struct {
	rdb *redis.Client
}

func NewCartStore(rdb *redis.Client) *CartStore { return &CartStore{rdb: rdb} }

// RemoveItems deletes the given courses from the user's cart. Missing
// entries are ignored.
func (c *CartStore) RemoveItems(ctx context.Context, userID string, courseIDs []string) error {
	if len(courseIDs) == 0 {
		return nil
	}
	if err := c.rdb.HDel(ctx, fmt.Sprintf(KeyCart, userID), courseIDs...).Err(); err != nil {
		return fmt.Errorf("redis: remove cart items of %s: %w", userID, err)
	}
	return nil
}
