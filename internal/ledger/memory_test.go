package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resale-market/internal/status"
	"resale-market/models"
)

func seedTicket(t *testing.T, l *MemoryLedger, id string) models.Ticket {
	t.Helper()

	ticket := models.Ticket{
		ID:             id,
		EventID:        "evt_1",
		CurrentOwnerID: "alice",
		Price:          decimal.NewFromInt(100),
		State:          models.TicketListed,
		Version:        1,
	}
	err := l.RunInTransaction(context.Background(), func(tx Tx) error {
		return tx.InsertTicket(&ticket)
	})
	require.NoError(t, err)
	return ticket
}

func TestMemoryLedger_UpdateTicket_StaleVersionConflicts(t *testing.T) {
	l := NewMemoryLedger()
	ticket := seedTicket(t, l, "tkt_1")

	err := l.RunInTransaction(context.Background(), func(tx Tx) error {
		fresh := ticket
		fresh.State = models.TicketSold
		return tx.UpdateTicket(&fresh, models.TicketListed, 1)
	})
	require.NoError(t, err)

	// A writer still holding version 1 must lose.
	err = l.RunInTransaction(context.Background(), func(tx Tx) error {
		stale := ticket
		stale.State = models.TicketWithdrawn
		return tx.UpdateTicket(&stale, models.TicketListed, 1)
	})
	assert.ErrorIs(t, err, status.ErrConflict)

	final, err := l.Ticket(context.Background(), "tkt_1")
	require.NoError(t, err)
	assert.Equal(t, models.TicketSold, final.State)
	assert.EqualValues(t, 2, final.Version)
}

func TestMemoryLedger_RunInTransaction_RollsBackOnError(t *testing.T) {
	l := NewMemoryLedger()
	boom := errors.New("boom")

	err := l.RunInTransaction(context.Background(), func(tx Tx) error {
		if err := tx.InsertTicket(&models.Ticket{ID: "tkt_1", State: models.TicketListed, Version: 1}); err != nil {
			return err
		}
		if err := tx.InsertPurchase(&models.Purchase{ID: "pur_1", TicketID: "tkt_1", BuyerID: "bob"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = l.Ticket(context.Background(), "tkt_1")
	assert.ErrorIs(t, err, status.ErrTicketNotFound)
	assert.Empty(t, l.ActivePurchases("tkt_1"))
}

func TestMemoryLedger_InsertPurchase_OneActivePerTicket(t *testing.T) {
	l := NewMemoryLedger()
	seedTicket(t, l, "tkt_1")

	err := l.RunInTransaction(context.Background(), func(tx Tx) error {
		return tx.InsertPurchase(&models.Purchase{ID: "pur_1", TicketID: "tkt_1", BuyerID: "bob"})
	})
	require.NoError(t, err)

	err = l.RunInTransaction(context.Background(), func(tx Tx) error {
		return tx.InsertPurchase(&models.Purchase{ID: "pur_2", TicketID: "tkt_1", BuyerID: "carol"})
	})
	assert.ErrorIs(t, err, status.ErrStorageFailure)

	// Once the first is superseded, a new active purchase is fine.
	err = l.RunInTransaction(context.Background(), func(tx Tx) error {
		if err := tx.SupersedePurchase("pur_1", time.Now()); err != nil {
			return err
		}
		return tx.InsertPurchase(&models.Purchase{ID: "pur_2", TicketID: "tkt_1", BuyerID: "carol"})
	})
	require.NoError(t, err)

	active := l.ActivePurchases("tkt_1")
	require.Len(t, active, 1)
	assert.Equal(t, "carol", active[0].BuyerID)
}

func TestMemoryLedger_InsertProvenance_OneCurrentPerTicket(t *testing.T) {
	l := NewMemoryLedger()
	seedTicket(t, l, "tkt_1")
	ctx := context.Background()

	err := l.RunInTransaction(ctx, func(tx Tx) error {
		return tx.InsertProvenance(&models.ProvenanceEntry{ID: "prv_1", TicketID: "tkt_1", IssuedToUserID: "alice", IsCurrent: true})
	})
	require.NoError(t, err)

	err = l.RunInTransaction(ctx, func(tx Tx) error {
		return tx.InsertProvenance(&models.ProvenanceEntry{ID: "prv_2", TicketID: "tkt_1", IssuedToUserID: "bob", IsCurrent: true})
	})
	assert.ErrorIs(t, err, status.ErrStorageFailure)

	err = l.RunInTransaction(ctx, func(tx Tx) error {
		if err := tx.SupersedeProvenance("tkt_1"); err != nil {
			return err
		}
		return tx.InsertProvenance(&models.ProvenanceEntry{ID: "prv_2", TicketID: "tkt_1", IssuedToUserID: "bob", IsCurrent: true})
	})
	require.NoError(t, err)

	var current int
	for _, entry := range l.ProvenanceFor("tkt_1") {
		if entry.IsCurrent {
			current++
			assert.Equal(t, "bob", entry.IssuedToUserID)
		}
	}
	assert.Equal(t, 1, current)
}

func TestMemoryLedger_ListAvailable_SkipsElapsedEvents(t *testing.T) {
	l := NewMemoryLedger()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	l.PutEvent(models.Event{ID: "evt_future", StartTime: now.Add(time.Hour)})
	l.PutEvent(models.Event{ID: "evt_past", StartTime: now.Add(-time.Hour)})

	err := l.RunInTransaction(context.Background(), func(tx Tx) error {
		if err := tx.InsertTicket(&models.Ticket{ID: "tkt_future", EventID: "evt_future", State: models.TicketListed, Version: 1}); err != nil {
			return err
		}
		return tx.InsertTicket(&models.Ticket{ID: "tkt_past", EventID: "evt_past", State: models.TicketListed, Version: 1})
	})
	require.NoError(t, err)

	tickets, err := l.ListAvailable(context.Background(), models.ListFilter{}, now)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "tkt_future", tickets[0].ID)
}

func TestMemoryLedger_AttachDocumentRef(t *testing.T) {
	l := NewMemoryLedger()
	seedTicket(t, l, "tkt_1")
	ctx := context.Background()

	err := l.RunInTransaction(ctx, func(tx Tx) error {
		return tx.InsertProvenance(&models.ProvenanceEntry{ID: "prv_1", TicketID: "tkt_1", IssuedToUserID: "alice", IsCurrent: true})
	})
	require.NoError(t, err)

	require.NoError(t, l.AttachDocumentRef(ctx, "tkt_1", "REF123"))

	ticket, err := l.Ticket(ctx, "tkt_1")
	require.NoError(t, err)
	assert.Equal(t, "REF123", ticket.DocumentRef)

	entries := l.ProvenanceFor("tkt_1")
	require.Len(t, entries, 1)
	assert.Equal(t, "REF123", entries[0].DocumentRef)
}
