// Package ledger is the persistent relational store behind the lifecycle
// engine. All shared ticket state lives here; concurrency safety is a
// transaction-isolation concern, never in-process locking.
package ledger

import (
	"context"
	"time"

	"resale-market/models"
)

// Tx is the transactional view handed to the engine. Every mutation inside
// one callback commits or rolls back as a unit.
type Tx interface {
	// Ticket returns the row or status.ErrTicketNotFound.
	Ticket(id string) (*models.Ticket, error)

	// Event returns the row or status.ErrEventNotFound.
	Event(id string) (*models.Event, error)

	InsertTicket(t *models.Ticket) error

	// UpdateTicket is a compare-and-swap on (id, state, version). A stale
	// state or version yields status.ErrConflict and writes nothing; the
	// affected-row count decides the winner among concurrent callers.
	UpdateTicket(t *models.Ticket, expectedState models.TicketState, expectedVersion int64) error

	// ActivePurchase returns the purchase with superseded_at unset, or nil
	// when the ticket has none.
	ActivePurchase(ticketID string) (*models.Purchase, error)

	InsertPurchase(p *models.Purchase) error
	SupersedePurchase(purchaseID string, at time.Time) error

	InsertPayment(p *models.Payment) error

	// CurrentProvenance returns the is_current entry, or nil when the ticket
	// has none yet.
	CurrentProvenance(ticketID string) (*models.ProvenanceEntry, error)

	// SupersedeProvenance clears is_current on every entry of the ticket.
	// Always paired with an InsertProvenance in the same transaction so the
	// one-current-entry invariant holds at commit.
	SupersedeProvenance(ticketID string) error
	InsertProvenance(e *models.ProvenanceEntry) error
}

// Ledger is the injected persistence handle. Implementations: the SQLite
// store used in production and the in-memory store used by tests and the
// local development driver.
type Ledger interface {
	// RunInTransaction runs fn atomically. Domain errors returned by fn pass
	// through verbatim after rollback; infrastructure failures surface as
	// status.ErrStorageFailure or status.ErrTimeout.
	RunInTransaction(ctx context.Context, fn func(tx Tx) error) error

	// Ticket is a plain committed read.
	Ticket(ctx context.Context, id string) (*models.Ticket, error)

	// ListAvailable returns listed tickets whose event starts after now,
	// narrowed by the filter. Reads last-committed state only.
	ListAvailable(ctx context.Context, f models.ListFilter, now time.Time) ([]models.Ticket, error)

	// AttachDocumentRef sets the document ref on the ticket row and its
	// current provenance entry. Used by the out-of-band reissue step; it is
	// its own small transaction, outside any purchase transaction.
	AttachDocumentRef(ctx context.Context, ticketID, ref string) error
}
