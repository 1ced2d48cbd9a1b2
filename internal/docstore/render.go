package docstore

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/sha3"
)

// Envelope is the rendered proof-of-ticket document. Each ownership change
// re-renders the envelope around the original payload so the artifact a
// buyer presents at entry is bound to their identity; stale copies are
// detected through the provenance log, not by deleting old payloads.
type Envelope struct {
	TicketID      string    `json:"ticket_id"`
	EventID       string    `json:"event_id"`
	IssuedTo      string    `json:"issued_to"`
	IssuedAt      time.Time `json:"issued_at"`
	PayloadDigest string    `json:"payload_digest"`
	Payload       []byte    `json:"payload"`
}

// Render produces the owner-bound document bytes.
func Render(ticketID, eventID, ownerID string, issuedAt time.Time, payload []byte) ([]byte, error) {
	digest := sha3.Sum256(payload)
	return json.Marshal(Envelope{
		TicketID:      ticketID,
		EventID:       eventID,
		IssuedTo:      ownerID,
		IssuedAt:      issuedAt.UTC(),
		PayloadDigest: hex.EncodeToString(digest[:]),
		Payload:       payload,
	})
}

// Unwrap parses a rendered document back into its envelope.
func Unwrap(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
