package redisx

import "time"

const (
	// Cart of a user: hash cart:{user_id}, field = course_id.
	KeyCart = "cart:%s"

	// Cached order status: order_status:{order_id} -> JSON orders.StatusView.
	KeyOrderStatus = "order_status:%s"

	// Dedup of processed messages: dedup:{service}:{id}.
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
