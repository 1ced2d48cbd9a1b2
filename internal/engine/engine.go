// Package engine owns the ticket lifecycle: the listed/sold/withdrawn state
// machine, the purchase and resale transactions, and the coordination of
// provenance and proof-of-ticket documents around them.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"resale-market/internal/docstore"
	"resale-market/internal/ledger"
	"resale-market/internal/notify"
	"resale-market/internal/status"
	"resale-market/models"
	"resale-market/monitoring"
	"resale-market/utils"
)

// Engine orchestrates every lifecycle transition. It holds no mutable state
// of its own; all shared state lives in the injected ledger, so concurrent
// callers are serialized per ticket by the ledger's compare-and-swap, never
// by an in-process lock.
type Engine struct {
	ledger    ledger.Ledger
	docs      docstore.Store
	notifier  notify.Notifier
	reissue   docstore.ReissueQueue
	txTimeout time.Duration

	now func() time.Time
}

func New(l ledger.Ledger, docs docstore.Store, notifier notify.Notifier, reissue docstore.ReissueQueue, txTimeout time.Duration) *Engine {
	return &Engine{
		ledger:    l,
		docs:      docs,
		notifier:  notifier,
		reissue:   reissue,
		txTimeout: txTimeout,
		now:       time.Now,
	}
}

// PurchaseReceipt is the committed outcome of a successful purchase.
type PurchaseReceipt struct {
	Ticket   models.Ticket   `json:"ticket"`
	Purchase models.Purchase `json:"purchase"`
	Payment  models.Payment  `json:"payment"`
}

// ListForSale creates a ticket in the listed state, stores the seller's
// proof-of-ticket document and opens the provenance chain with it.
func (e *Engine) ListForSale(ctx context.Context, ownerID, eventID string, price decimal.Decimal, document []byte) (*models.Ticket, error) {
	started := e.now()

	if !price.GreaterThan(decimal.Zero) {
		return nil, trackFail("list_for_sale", status.ErrInvalidPrice)
	}
	if len(document) == 0 {
		return nil, trackFail("list_for_sale", status.ErrMissingDocument)
	}

	ticketID, err := newID("tkt")
	if err != nil {
		return nil, err
	}

	rendered, err := docstore.Render(ticketID, eventID, ownerID, started, document)
	if err != nil {
		return nil, trackFail("list_for_sale", fmt.Errorf("%w: render document: %v", status.ErrStorageFailure, err))
	}
	ref, err := e.docs.Store(ctx, rendered)
	if err != nil {
		return nil, trackFail("list_for_sale", fmt.Errorf("%w: %v", status.ErrStorageFailure, err))
	}

	entryID, err := newID("prv")
	if err != nil {
		return nil, err
	}

	ticket := &models.Ticket{
		ID:             ticketID,
		EventID:        eventID,
		CurrentOwnerID: ownerID,
		Price:          price,
		State:          models.TicketListed,
		DocumentRef:    ref,
		Version:        1,
		CreatedAt:      started,
		UpdatedAt:      started,
	}

	err = e.inTransaction(ctx, func(tx ledger.Tx) error {
		event, err := tx.Event(eventID)
		if err != nil {
			return err
		}
		if !event.StartTime.After(started) {
			return status.ErrEventElapsed
		}

		if err := tx.InsertTicket(ticket); err != nil {
			return err
		}
		return tx.InsertProvenance(&models.ProvenanceEntry{
			ID:             entryID,
			TicketID:       ticketID,
			DocumentRef:    ref,
			IssuedToUserID: ownerID,
			IssuedAt:       started,
			IsCurrent:      true,
		})
	})
	if err != nil {
		return nil, trackFail("list_for_sale", err)
	}

	e.notifier.Publish(ctx, models.LifecycleEvent{
		Type:       models.EventTicketListed,
		TicketID:   ticketID,
		EventID:    eventID,
		OwnerID:    ownerID,
		OccurredAt: started,
	})

	monitoring.TrackOperation("list_for_sale", "success")
	monitoring.TrackTransactionDuration("list_for_sale", e.now().Sub(started))
	return ticket, nil
}

// Purchase moves a listed ticket to sold for exactly one of any number of
// concurrent buyers. The ticket update, purchase, payment and provenance
// rows commit as one transaction; the buyer-bound document is attached
// after commit and retried out of band if the document store is down.
func (e *Engine) Purchase(ctx context.Context, ticketID, buyerID string, details models.PaymentDetails) (*PurchaseReceipt, error) {
	started := e.now()

	instrument := models.NormalizeInstrument(details.Instrument)
	if !models.ValidInstrument(instrument) {
		return nil, trackFail("purchase", status.ErrPaymentInvalid)
	}

	purchaseID, err := newID("pur")
	if err != nil {
		return nil, err
	}
	paymentID, err := newID("pay")
	if err != nil {
		return nil, err
	}
	entryID, err := newID("prv")
	if err != nil {
		return nil, err
	}

	var receipt *PurchaseReceipt

	err = e.inTransaction(ctx, func(tx ledger.Tx) error {
		ticket, err := tx.Ticket(ticketID)
		if err != nil {
			return err
		}

		switch ticket.State {
		case models.TicketSold:
			return status.ErrAlreadySold
		case models.TicketWithdrawn:
			return status.ErrTicketWithdrawn
		}
		if ticket.CurrentOwnerID == buyerID {
			return status.ErrSelfPurchase
		}

		event, err := tx.Event(ticket.EventID)
		if err != nil {
			return err
		}
		if !event.StartTime.After(started) {
			return status.ErrEventElapsed
		}

		// The payment amount is always the price read in this transaction.
		// A client-declared amount is only checked, never trusted.
		if !details.Amount.IsZero() && !details.Amount.Equal(ticket.Price) {
			return status.ErrPaymentInvalid
		}

		sellerID := ticket.CurrentOwnerID
		expectedVersion := ticket.Version

		ticket.CurrentOwnerID = buyerID
		ticket.State = models.TicketSold
		ticket.UpdatedAt = started
		if err := tx.UpdateTicket(ticket, models.TicketListed, expectedVersion); err != nil {
			if errors.Is(err, status.ErrConflict) {
				// A concurrent buyer won the compare-and-swap.
				return status.ErrAlreadySold
			}
			return err
		}

		purchase := models.Purchase{
			ID:          purchaseID,
			TicketID:    ticketID,
			BuyerID:     buyerID,
			SellerID:    sellerID,
			PurchasedAt: started,
		}
		if err := tx.InsertPurchase(&purchase); err != nil {
			return err
		}

		payment := models.Payment{
			ID:               paymentID,
			PurchaseID:       purchaseID,
			Amount:           ticket.Price,
			Method:           details.Method,
			InstrumentDigest: models.DigestInstrument(instrument),
			InstrumentMasked: models.MaskInstrument(instrument),
			PaidAt:           started,
		}
		if err := tx.InsertPayment(&payment); err != nil {
			return err
		}

		if err := tx.SupersedeProvenance(ticketID); err != nil {
			return err
		}
		// The document ref stays pending until the buyer-bound envelope is
		// rendered after commit.
		if err := tx.InsertProvenance(&models.ProvenanceEntry{
			ID:             entryID,
			TicketID:       ticketID,
			IssuedToUserID: buyerID,
			IssuedAt:       started,
			IsCurrent:      true,
		}); err != nil {
			return err
		}

		receipt = &PurchaseReceipt{Ticket: *ticket, Purchase: purchase, Payment: payment}
		return nil
	})
	if err != nil {
		return nil, trackFail("purchase", err)
	}

	e.notifier.Publish(ctx, models.LifecycleEvent{
		Type:       models.EventTicketSold,
		TicketID:   ticketID,
		EventID:    receipt.Ticket.EventID,
		BuyerID:    buyerID,
		SellerID:   receipt.Purchase.SellerID,
		OccurredAt: started,
	})

	// The sale is committed; a document store outage must not undo it.
	if err := e.AttachDocument(ctx, ticketID); err != nil {
		slog.Warn("document attach failed after purchase, queueing reissue",
			"ticketID", ticketID,
			"buyerID", buyerID,
			"error", err,
		)
		if qErr := e.reissue.Enqueue(ctx, docstore.ReissueJob{TicketID: ticketID}); qErr != nil {
			slog.Error("reissue enqueue failed", "ticketID", ticketID, "error", qErr)
		}
	} else if ticket, err := e.ledger.Ticket(ctx, ticketID); err == nil {
		receipt.Ticket = *ticket
	}

	monitoring.TrackOperation("purchase", "success")
	monitoring.TrackTransactionDuration("purchase", e.now().Sub(started))
	return receipt, nil
}

// Resell re-lists a sold ticket at a new price under its current owner,
// superseding the active purchase and rotating the document to the one the
// reseller uploaded. The previous buyer's provenance entry goes non-current
// so their copy can be recognized as stale.
func (e *Engine) Resell(ctx context.Context, ticketID, sellerID string, newPrice decimal.Decimal, newDocument []byte) (*models.Ticket, error) {
	started := e.now()

	if !newPrice.GreaterThan(decimal.Zero) {
		return nil, trackFail("resell", status.ErrInvalidPrice)
	}
	if len(newDocument) == 0 {
		return nil, trackFail("resell", status.ErrMissingDocument)
	}

	entryID, err := newID("prv")
	if err != nil {
		return nil, err
	}

	var updated *models.Ticket

	// The new document is stored before the transaction opens: a store
	// failure here fails the whole operation with nothing to roll back. The
	// event binding comes from a committed read; ownership and state are
	// still re-checked inside the transaction.
	existing, err := e.ledger.Ticket(ctx, ticketID)
	if err != nil {
		return nil, trackFail("resell", err)
	}
	rendered, err := docstore.Render(ticketID, existing.EventID, sellerID, started, newDocument)
	if err != nil {
		return nil, trackFail("resell", fmt.Errorf("%w: render document: %v", status.ErrStorageFailure, err))
	}
	ref, err := e.docs.Store(ctx, rendered)
	if err != nil {
		return nil, trackFail("resell", fmt.Errorf("%w: %v", status.ErrStorageFailure, err))
	}

	err = e.inTransaction(ctx, func(tx ledger.Tx) error {
		ticket, err := tx.Ticket(ticketID)
		if err != nil {
			return err
		}

		if ticket.CurrentOwnerID != sellerID {
			return status.ErrNotOwner
		}
		if ticket.State != models.TicketSold {
			return status.ErrNotCurrentlySold
		}

		event, err := tx.Event(ticket.EventID)
		if err != nil {
			return err
		}
		if !event.StartTime.After(started) {
			return status.ErrEventElapsed
		}

		active, err := tx.ActivePurchase(ticketID)
		if err != nil {
			return err
		}
		if active == nil {
			return status.ErrNotCurrentlySold
		}
		if err := tx.SupersedePurchase(active.ID, started); err != nil {
			return err
		}

		expectedVersion := ticket.Version
		ticket.Price = newPrice
		ticket.State = models.TicketListed
		ticket.DocumentRef = ref
		ticket.UpdatedAt = started
		if err := tx.UpdateTicket(ticket, models.TicketSold, expectedVersion); err != nil {
			if errors.Is(err, status.ErrConflict) {
				return status.ErrNotCurrentlySold
			}
			return err
		}

		if err := tx.SupersedeProvenance(ticketID); err != nil {
			return err
		}
		if err := tx.InsertProvenance(&models.ProvenanceEntry{
			ID:             entryID,
			TicketID:       ticketID,
			DocumentRef:    ref,
			IssuedToUserID: sellerID,
			IssuedAt:       started,
			IsCurrent:      true,
		}); err != nil {
			return err
		}

		updated = ticket
		return nil
	})
	if err != nil {
		return nil, trackFail("resell", err)
	}

	e.notifier.Publish(ctx, models.LifecycleEvent{
		Type:       models.EventTicketListed,
		TicketID:   ticketID,
		EventID:    updated.EventID,
		OwnerID:    sellerID,
		OccurredAt: started,
	})

	monitoring.TrackOperation("resell", "success")
	monitoring.TrackTransactionDuration("resell", e.now().Sub(started))
	return updated, nil
}

// Withdraw takes a listed ticket off the market. There is no reverse
// transition: a withdrawn ticket never becomes listable again.
func (e *Engine) Withdraw(ctx context.Context, ticketID, ownerID string) (*models.Ticket, error) {
	started := e.now()

	var updated *models.Ticket

	err := e.inTransaction(ctx, func(tx ledger.Tx) error {
		ticket, err := tx.Ticket(ticketID)
		if err != nil {
			return err
		}

		if ticket.CurrentOwnerID != ownerID {
			return status.ErrNotOwner
		}
		switch ticket.State {
		case models.TicketWithdrawn:
			return status.ErrTicketWithdrawn
		case models.TicketSold:
			return status.ErrHasActivePurchase
		}

		active, err := tx.ActivePurchase(ticketID)
		if err != nil {
			return err
		}
		if active != nil {
			return status.ErrHasActivePurchase
		}

		expectedVersion := ticket.Version
		ticket.State = models.TicketWithdrawn
		ticket.UpdatedAt = started
		if err := tx.UpdateTicket(ticket, models.TicketListed, expectedVersion); err != nil {
			if errors.Is(err, status.ErrConflict) {
				// A concurrent purchase landed first.
				return status.ErrHasActivePurchase
			}
			return err
		}

		updated = ticket
		return nil
	})
	if err != nil {
		return nil, trackFail("withdraw", err)
	}

	e.notifier.Publish(ctx, models.LifecycleEvent{
		Type:       models.EventTicketWithdrawn,
		TicketID:   ticketID,
		EventID:    updated.EventID,
		OwnerID:    ownerID,
		OccurredAt: started,
	})

	monitoring.TrackOperation("withdraw", "success")
	return updated, nil
}

// ListAvailable returns listed tickets for upcoming events, last-committed
// state only.
func (e *Engine) ListAvailable(ctx context.Context, filter models.ListFilter) ([]models.Ticket, error) {
	return e.ledger.ListAvailable(ctx, filter, e.now())
}

// Document returns the current proof-of-ticket bytes for the ticket's
// owner. A stored envelope still bound to a previous owner means an attach
// never landed (document store outage with the reissue job lost too); the
// document is re-rendered for the caller on the spot instead of handing out
// the stale copy.
func (e *Engine) Document(ctx context.Context, ticketID, callerID string) ([]byte, error) {
	ticket, err := e.ledger.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.CurrentOwnerID != callerID {
		return nil, status.ErrNotOwner
	}
	if ticket.DocumentRef == "" {
		return nil, docstore.ErrDocumentNotFound
	}

	data, err := e.docs.Fetch(ctx, ticket.DocumentRef)
	if err != nil {
		return nil, err
	}
	env, err := docstore.Unwrap(data)
	if err != nil || env.IssuedTo == callerID {
		return data, nil
	}

	if err := e.AttachDocument(ctx, ticketID); err != nil {
		return nil, err
	}
	ticket, err = e.ledger.Ticket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return e.docs.Fetch(ctx, ticket.DocumentRef)
}

// AttachDocument renders the document for the ticket's current owner from
// the predecessor payload, stores it and records the new ref on the ticket
// and its current provenance entry. Called after a purchase commit and by
// the reissue worker.
func (e *Engine) AttachDocument(ctx context.Context, ticketID string) error {
	ticket, err := e.ledger.Ticket(ctx, ticketID)
	if err != nil {
		return err
	}

	payload, err := e.payloadFor(ctx, ticket)
	if err != nil {
		return err
	}

	issued := e.now()
	rendered, err := docstore.Render(ticket.ID, ticket.EventID, ticket.CurrentOwnerID, issued, payload)
	if err != nil {
		return fmt.Errorf("render document: %w", err)
	}
	ref, err := e.docs.Store(ctx, rendered)
	if err != nil {
		return err
	}

	if err := e.ledger.AttachDocumentRef(ctx, ticketID, ref); err != nil {
		return err
	}

	monitoring.TrackOperation("attach_document", "success")
	return nil
}

// payloadFor recovers the original artifact carried through the resale
// chain. The previous envelope's payload is reused; a document that never
// was an envelope passes through as-is.
func (e *Engine) payloadFor(ctx context.Context, ticket *models.Ticket) ([]byte, error) {
	if ticket.DocumentRef == "" {
		return nil, docstore.ErrDocumentNotFound
	}
	data, err := e.docs.Fetch(ctx, ticket.DocumentRef)
	if err != nil {
		return nil, err
	}
	if env, err := docstore.Unwrap(data); err == nil && len(env.Payload) > 0 {
		return env.Payload, nil
	}
	return data, nil
}

func (e *Engine) inTransaction(ctx context.Context, fn func(tx ledger.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.txTimeout)
	defer cancel()
	return e.ledger.RunInTransaction(ctx, fn)
}

func newID(prefix string) (string, error) {
	code, err := utils.GenerateCode(8)
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return fmt.Sprintf("%s_%s", prefix, code), nil
}

func trackFail(operation string, err error) error {
	monitoring.TrackOperation(operation, "error")
	return err
}
