package models

import (
	"time"

	"gofalre.io/store/models/enum"
)

// CartEvent is the payload published on the event bus for every cart
// lifecycle transition.
type CartEvent struct {
	ID         string         `json:"id"`
	Type       enum.EventType `json:"type"`
	CartID     string         `json:"cart_id"`
	ProductID  string         `json:"product_id,omitempty"`
	Quantity   int64          `json:"quantity,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Event is the processed-event ledger row backing handler idempotence.
type Event struct {
	ID        string         `json:"id"`
	Type      enum.EventType `json:"type"`
	Processed bool           `json:"processed"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
