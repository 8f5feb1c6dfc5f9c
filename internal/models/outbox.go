package models

import (
	"encoding/json"
	"time"
)

// OutboxRecord is an event staged in the same unit of work as the purchase
// that produced it, waiting to be relayed to the broker.
type OutboxRecord struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}
