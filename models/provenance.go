package models

import (
	"time"
)

// ProvenanceEntry is one row of the append-only document issuance log.
// Exactly one entry per ticket is current; superseded entries stay behind so
// stale proof-of-ticket copies can be detected after a resale.
type ProvenanceEntry struct {
	ID             string    `json:"id"`
	TicketID       string    `json:"ticket_id"`
	DocumentRef    string    `json:"document_ref"`
	IssuedToUserID string    `json:"issued_to_user_id"`
	IssuedAt       time.Time `json:"issued_at"`
	IsCurrent      bool      `json:"is_current"`
}
