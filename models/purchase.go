package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Purchase records a completed sale. A ticket accumulates one Purchase per
// resale hop; at most one of them is active (SupersededAt == nil).
type Purchase struct {
	ID           string     `json:"id"`
	TicketID     string     `json:"ticket_id"`
	BuyerID      string     `json:"buyer_id"`
	SellerID     string     `json:"seller_id"`
	PurchasedAt  time.Time  `json:"purchased_at"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

func (p *Purchase) Active() bool {
	return p.SupersededAt == nil
}

// Payment is created atomically with its Purchase. The amount always equals
// the ticket price read in the same transaction, never a client value.
type Payment struct {
	ID               string          `json:"payment_id"`
	PurchaseID       string          `json:"purchase_id"`
	Amount           decimal.Decimal `json:"amount"`
	Method           string          `json:"method"` // qr_code, credit_card, bank_transfer
	InstrumentDigest string          `json:"instrument_digest"`
	InstrumentMasked string          `json:"instrument_masked"`
	PaidAt           time.Time       `json:"paid_at"`
}
