package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"resale-market/internal/status"
	"resale-market/models"
)

// MemoryLedger keeps all rows in process. It backs the "memory" ledger
// driver for local development and the engine tests. A single mutex
// serializes transactions, so check-then-write sequences are atomic; the
// compare-and-swap in UpdateTicket is still enforced so the engine cannot
// silently depend on that serialization.
type MemoryLedger struct {
	mu sync.Mutex

	tickets    map[string]models.Ticket
	events     map[string]models.Event
	purchases  map[string]models.Purchase
	payments   map[string]models.Payment
	provenance map[string]models.ProvenanceEntry
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		tickets:    make(map[string]models.Ticket),
		events:     make(map[string]models.Event),
		purchases:  make(map[string]models.Purchase),
		payments:   make(map[string]models.Payment),
		provenance: make(map[string]models.ProvenanceEntry),
	}
}

// PutEvent seeds an event row. Event rows are owned by the admin surface,
// so the fake exposes a plain setter instead of a transactional write.
func (l *MemoryLedger) PutEvent(e models.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[e.ID] = e
}

func (l *MemoryLedger) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", status.ErrTimeout, err)
	}

	tx := &memTx{
		tickets:    cloneMap(l.tickets),
		events:     cloneMap(l.events),
		purchases:  cloneMap(l.purchases),
		payments:   cloneMap(l.payments),
		provenance: cloneMap(l.provenance),
	}

	if err := fn(tx); err != nil {
		return err
	}

	l.tickets = tx.tickets
	l.events = tx.events
	l.purchases = tx.purchases
	l.payments = tx.payments
	l.provenance = tx.provenance
	return nil
}

func (l *MemoryLedger) Ticket(ctx context.Context, id string) (*models.Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, ok := l.tickets[id]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	return &t, nil
}

func (l *MemoryLedger) ListAvailable(ctx context.Context, f models.ListFilter, now time.Time) ([]models.Ticket, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.Ticket
	for _, t := range l.tickets {
		if t.State != models.TicketListed {
			continue
		}
		if f.EventID != "" && t.EventID != f.EventID {
			continue
		}
		if f.MinPrice != nil && t.Price.LessThan(*f.MinPrice) {
			continue
		}
		if f.MaxPrice != nil && t.Price.GreaterThan(*f.MaxPrice) {
			continue
		}
		event, ok := l.events[t.EventID]
		if !ok || !event.StartTime.After(now) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (l *MemoryLedger) AttachDocumentRef(ctx context.Context, ticketID, ref string) error {
	return l.RunInTransaction(ctx, func(tx Tx) error {
		t, err := tx.Ticket(ticketID)
		if err != nil {
			return err
		}
		t.DocumentRef = ref
		if err := tx.UpdateTicket(t, t.State, t.Version); err != nil {
			return err
		}
		mtx := tx.(*memTx)
		for id, p := range mtx.provenance {
			if p.TicketID == ticketID && p.IsCurrent {
				p.DocumentRef = ref
				mtx.provenance[id] = p
			}
		}
		return nil
	})
}

// ActivePurchases returns the non-superseded purchases for a ticket.
// Test helper for chain-integrity assertions.
func (l *MemoryLedger) ActivePurchases(ticketID string) []models.Purchase {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.Purchase
	for _, p := range l.purchases {
		if p.TicketID == ticketID && p.Active() {
			out = append(out, p)
		}
	}
	return out
}

// ProvenanceFor returns every provenance entry for a ticket.
func (l *MemoryLedger) ProvenanceFor(ticketID string) []models.ProvenanceEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.ProvenanceEntry
	for _, e := range l.provenance {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	return out
}

// PaymentsFor returns every payment recorded against a ticket's purchases.
func (l *MemoryLedger) PaymentsFor(ticketID string) []models.Payment {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []models.Payment
	for _, pay := range l.payments {
		if p, ok := l.purchases[pay.PurchaseID]; ok && p.TicketID == ticketID {
			out = append(out, pay)
		}
	}
	return out
}

func cloneMap[V any](m map[string]V) map[string]V {
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type memTx struct {
	tickets    map[string]models.Ticket
	events     map[string]models.Event
	purchases  map[string]models.Purchase
	payments   map[string]models.Payment
	provenance map[string]models.ProvenanceEntry
}

func (tx *memTx) Ticket(id string) (*models.Ticket, error) {
	t, ok := tx.tickets[id]
	if !ok {
		return nil, status.ErrTicketNotFound
	}
	return &t, nil
}

func (tx *memTx) Event(id string) (*models.Event, error) {
	e, ok := tx.events[id]
	if !ok {
		return nil, status.ErrEventNotFound
	}
	return &e, nil
}

func (tx *memTx) InsertTicket(t *models.Ticket) error {
	if _, exists := tx.tickets[t.ID]; exists {
		return fmt.Errorf("%w: duplicate ticket %s", status.ErrStorageFailure, t.ID)
	}
	tx.tickets[t.ID] = *t
	return nil
}

func (tx *memTx) UpdateTicket(t *models.Ticket, expectedState models.TicketState, expectedVersion int64) error {
	current, ok := tx.tickets[t.ID]
	if !ok {
		return status.ErrTicketNotFound
	}
	if current.State != expectedState || current.Version != expectedVersion {
		return status.ErrConflict
	}
	updated := *t
	updated.Version = expectedVersion + 1
	tx.tickets[t.ID] = updated
	t.Version = updated.Version
	return nil
}

func (tx *memTx) ActivePurchase(ticketID string) (*models.Purchase, error) {
	for _, p := range tx.purchases {
		if p.TicketID == ticketID && p.Active() {
			return &p, nil
		}
	}
	return nil, nil
}

func (tx *memTx) InsertPurchase(p *models.Purchase) error {
	// Mirrors the partial unique index: one active purchase per ticket.
	if p.Active() {
		for _, existing := range tx.purchases {
			if existing.TicketID == p.TicketID && existing.Active() {
				return fmt.Errorf("%w: active purchase exists for ticket %s", status.ErrStorageFailure, p.TicketID)
			}
		}
	}
	tx.purchases[p.ID] = *p
	return nil
}

func (tx *memTx) SupersedePurchase(purchaseID string, at time.Time) error {
	p, ok := tx.purchases[purchaseID]
	if !ok {
		return fmt.Errorf("%w: purchase %s not found", status.ErrStorageFailure, purchaseID)
	}
	p.SupersededAt = &at
	tx.purchases[purchaseID] = p
	return nil
}

func (tx *memTx) InsertPayment(p *models.Payment) error {
	if _, exists := tx.payments[p.ID]; exists {
		return fmt.Errorf("%w: duplicate payment %s", status.ErrStorageFailure, p.ID)
	}
	tx.payments[p.ID] = *p
	return nil
}

func (tx *memTx) CurrentProvenance(ticketID string) (*models.ProvenanceEntry, error) {
	for _, e := range tx.provenance {
		if e.TicketID == ticketID && e.IsCurrent {
			return &e, nil
		}
	}
	return nil, nil
}

func (tx *memTx) SupersedeProvenance(ticketID string) error {
	for id, e := range tx.provenance {
		if e.TicketID == ticketID && e.IsCurrent {
			e.IsCurrent = false
			tx.provenance[id] = e
		}
	}
	return nil
}

func (tx *memTx) InsertProvenance(e *models.ProvenanceEntry) error {
	// Mirrors the partial unique index: one current entry per ticket.
	if e.IsCurrent {
		for _, existing := range tx.provenance {
			if existing.TicketID == e.TicketID && existing.IsCurrent {
				return fmt.Errorf("%w: current provenance exists for ticket %s", status.ErrStorageFailure, e.TicketID)
			}
		}
	}
	tx.provenance[e.ID] = *e
	return nil
}
