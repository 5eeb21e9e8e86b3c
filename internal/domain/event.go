package domain

import "time"

// Event types published after a successful store mutation.
const (
	EventItemCreated     = "item.created"
	EventItemDelivered   = "item.delivered"
	EventItemRedelivered = "item.redelivered"
	EventItemFinalized   = "item.finalized"
	EventItemRejected    = "item.rejected"
	EventItemDeleted     = "item.deleted"
)

type Event struct {
	EventID    string     `json:"event_id"`
	Type       string     `json:"type"`
	Kind       Kind       `json:"kind"`
	ItemIDs    []int64    `json:"item_ids"`
	Recipient  *Recipient `json:"recipient,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Actor      string     `json:"actor"`
	OccurredAt time.Time  `json:"occurred_at"`
}
