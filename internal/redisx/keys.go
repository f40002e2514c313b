package redisx

import "time"

const (
	// Intent idempotency fast-path: idem:intent:{buyer_id}:{checkout_ref} -> "1"
	KeyIdemIntent = "idem:intent:%s:%s"

	// Status cache for the polling endpoint:
	// order_status:{buyer_id}:{external_order_id} -> JSON status payload
	KeyOrderStatus = "order_status:%s:%s"

	// Processed-event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 15 * time.Second
	TTLDedup       = 48 * time.Hour
)
