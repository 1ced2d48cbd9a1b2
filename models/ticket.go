package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TicketState string

const (
	TicketListed    TicketState = "listed"
	TicketSold      TicketState = "sold"
	TicketWithdrawn TicketState = "withdrawn"
)

type Ticket struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	CurrentOwnerID string          `json:"current_owner_id"`
	Price          decimal.Decimal `json:"price"`
	State          TicketState     `json:"state"`
	DocumentRef    string          `json:"document_ref"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ListFilter narrows ListAvailable results. Zero values mean "no filter".
type ListFilter struct {
	EventID  string           `json:"event_id,omitempty"`
	MinPrice *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice *decimal.Decimal `json:"max_price,omitempty"`
}
