package models

import (
	"time"
)

type LifecycleEventType string

const (
	EventTicketListed    LifecycleEventType = "ticket_listed"
	EventTicketSold      LifecycleEventType = "ticket_sold"
	EventTicketWithdrawn LifecycleEventType = "ticket_withdrawn"
)

// LifecycleEvent is the payload handed to the notification sink. Delivery is
// at-most-once and best-effort; losing one never affects ticket state.
type LifecycleEvent struct {
	Type       LifecycleEventType `json:"type"`
	TicketID   string             `json:"ticket_id"`
	EventID    string             `json:"event_id,omitempty"`
	OwnerID    string             `json:"owner_id,omitempty"`
	BuyerID    string             `json:"buyer_id,omitempty"`
	SellerID   string             `json:"seller_id,omitempty"`
	OccurredAt time.Time          `json:"occurred_at"`
}
