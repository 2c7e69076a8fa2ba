package redisx

import "time"

const (
	// Availability cache per slot key: slots:avail:{category_id}:{area} -> JSON
	KeyAvailability = "slots:avail:%s:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Released customer contact for the accept winner:
	// lead:contact:{lead_id}:{freelancer_id} -> contact string
	KeyLeadContact = "lead:contact:%s:%s"

	// Idempotency shortcut for order creation:
	// idem:payment:create:{freelancer_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:payment:create:%s:%s"
)

var (
	TTLAvailability = 30 * time.Second
	TTLDedup        = 48 * time.Hour
	TTLLeadContact  = 24 * time.Hour
	TTLIdempotency  = 24 * time.Hour
)
