package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pocketbase/dbx"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"resale-market/internal/status"
	"resale-market/models"
)

// SQLiteLedger persists through the PocketBase data database. SQLite
// serializes writers inside RunInTransaction, and every state-changing
// update is additionally a compare-and-swap on (id, state, version), so at
// most one concurrent purchase can move a ticket out of the listed state.
type SQLiteLedger struct {
	app core.App
}

func NewSQLiteLedger(app core.App) *SQLiteLedger {
	return &SQLiteLedger{app: app}
}

func (l *SQLiteLedger) RunInTransaction(ctx context.Context, fn func(tx Tx) error) error {
	err := l.app.RunInTransaction(func(txApp core.App) error {
		return fn(&sqlTx{ctx: ctx, db: txApp.DB()})
	})
	return classify(err)
}

func (l *SQLiteLedger) Ticket(ctx context.Context, id string) (*models.Ticket, error) {
	tx := &sqlTx{ctx: ctx, db: l.app.DB()}
	t, err := tx.Ticket(id)
	if err != nil {
		return nil, classify(err)
	}
	return t, nil
}

func (l *SQLiteLedger) ListAvailable(ctx context.Context, f models.ListFilter, now time.Time) ([]models.Ticket, error) {
	query := `SELECT t.id, t.event_id, t.current_owner_id, t.price, t.state, t.document_ref, t.version, t.created, t.updated
		FROM tickets t
		JOIN events e ON e.id = t.event_id
		WHERE t.state = {:state} AND e.start_time > {:now}`
	params := dbx.Params{
		"state": string(models.TicketListed),
		"now":   now.UTC().Format(time.RFC3339Nano),
	}

	if f.EventID != "" {
		query += " AND t.event_id = {:eventId}"
		params["eventId"] = f.EventID
	}
	if f.MinPrice != nil {
		query += " AND CAST(t.price AS REAL) >= {:minPrice}"
		params["minPrice"], _ = f.MinPrice.Float64()
	}
	if f.MaxPrice != nil {
		query += " AND CAST(t.price AS REAL) <= {:maxPrice}"
		params["maxPrice"], _ = f.MaxPrice.Float64()
	}
	query += " ORDER BY t.created"

	var rows []ticketRow
	if err := l.app.DB().NewQuery(query).Bind(params).WithContext(ctx).All(&rows); err != nil {
		return nil, classify(wrapInfra("list available", err))
	}

	out := make([]models.Ticket, 0, len(rows))
	for _, r := range rows {
		t, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (l *SQLiteLedger) AttachDocumentRef(ctx context.Context, ticketID, ref string) error {
	return l.RunInTransaction(ctx, func(tx Tx) error {
		stx := tx.(*sqlTx)

		result, err := stx.db.NewQuery(
			`UPDATE tickets SET document_ref = {:ref}, updated = {:now} WHERE id = {:id}`,
		).Bind(dbx.Params{
			"ref": ref,
			"now": time.Now().UTC().Format(time.RFC3339Nano),
			"id":  ticketID,
		}).WithContext(ctx).Execute()
		if err != nil {
			return wrapInfra("attach document ref", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return status.ErrTicketNotFound
		}

		_, err = stx.db.NewQuery(
			`UPDATE provenance_entries SET document_ref = {:ref} WHERE ticket_id = {:id} AND is_current = 1`,
		).Bind(dbx.Params{"ref": ref, "id": ticketID}).WithContext(ctx).Execute()
		if err != nil {
			return wrapInfra("attach provenance ref", err)
		}
		return nil
	})
}

type sqlTx struct {
	ctx context.Context
	db  dbx.Builder
}

type ticketRow struct {
	ID             string `db:"id"`
	EventID        string `db:"event_id"`
	CurrentOwnerID string `db:"current_owner_id"`
	Price          string `db:"price"`
	State          string `db:"state"`
	DocumentRef    string `db:"document_ref"`
	Version        int64  `db:"version"`
	Created        string `db:"created"`
	Updated        string `db:"updated"`
}

func (r ticketRow) model() (*models.Ticket, error) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, wrapInfra("parse ticket price", err)
	}
	return &models.Ticket{
		ID:             r.ID,
		EventID:        r.EventID,
		CurrentOwnerID: r.CurrentOwnerID,
		Price:          price,
		State:          models.TicketState(r.State),
		DocumentRef:    r.DocumentRef,
		Version:        r.Version,
		CreatedAt:      parseTime(r.Created),
		UpdatedAt:      parseTime(r.Updated),
	}, nil
}

func (tx *sqlTx) Ticket(id string) (*models.Ticket, error) {
	var row ticketRow
	err := tx.db.NewQuery(
		`SELECT id, event_id, current_owner_id, price, state, document_ref, version, created, updated
		 FROM tickets WHERE id = {:id}`,
	).Bind(dbx.Params{"id": id}).WithContext(tx.ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrTicketNotFound
	}
	if err != nil {
		return nil, wrapInfra("load ticket", err)
	}
	return row.model()
}

func (tx *sqlTx) Event(id string) (*models.Event, error) {
	var row struct {
		ID        string `db:"id"`
		Name      string `db:"name"`
		Venue     string `db:"venue"`
		StartTime string `db:"start_time"`
		Status    string `db:"status"`
	}
	err := tx.db.NewQuery(
		`SELECT id, name, venue, start_time, status FROM events WHERE id = {:id}`,
	).Bind(dbx.Params{"id": id}).WithContext(tx.ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, status.ErrEventNotFound
	}
	if err != nil {
		return nil, wrapInfra("load event", err)
	}
	return &models.Event{
		ID:        row.ID,
		Name:      row.Name,
		Venue:     row.Venue,
		StartTime: parseTime(row.StartTime),
		Status:    row.Status,
	}, nil
}

func (tx *sqlTx) InsertTicket(t *models.Ticket) error {
	_, err := tx.db.Insert("tickets", dbx.Params{
		"id":               t.ID,
		"event_id":         t.EventID,
		"current_owner_id": t.CurrentOwnerID,
		"price":            t.Price.String(),
		"state":            string(t.State),
		"document_ref":     t.DocumentRef,
		"version":          t.Version,
		"created":          t.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated":          t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}).WithContext(tx.ctx).Execute()
	if err != nil {
		return wrapInfra("insert ticket", err)
	}
	return nil
}

func (tx *sqlTx) UpdateTicket(t *models.Ticket, expectedState models.TicketState, expectedVersion int64) error {
	result, err := tx.db.NewQuery(
		`UPDATE tickets
		 SET current_owner_id = {:owner}, price = {:price}, state = {:state},
		     document_ref = {:ref}, version = version + 1, updated = {:updated}
		 WHERE id = {:id} AND state = {:expectedState} AND version = {:expectedVersion}`,
	).Bind(dbx.Params{
		"owner":           t.CurrentOwnerID,
		"price":           t.Price.String(),
		"state":           string(t.State),
		"ref":             t.DocumentRef,
		"updated":         t.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"id":              t.ID,
		"expectedState":   string(expectedState),
		"expectedVersion": expectedVersion,
	}).WithContext(tx.ctx).Execute()
	if err != nil {
		return wrapInfra("update ticket", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return status.ErrConflict
	}
	t.Version = expectedVersion + 1
	return nil
}

type purchaseRow struct {
	ID           string         `db:"id"`
	TicketID     string         `db:"ticket_id"`
	BuyerID      string         `db:"buyer_id"`
	SellerID     string         `db:"seller_id"`
	PurchasedAt  string         `db:"purchased_at"`
	SupersededAt sql.NullString `db:"superseded_at"`
}

func (tx *sqlTx) ActivePurchase(ticketID string) (*models.Purchase, error) {
	var row purchaseRow
	err := tx.db.NewQuery(
		`SELECT id, ticket_id, buyer_id, seller_id, purchased_at, superseded_at
		 FROM purchases WHERE ticket_id = {:id} AND superseded_at IS NULL`,
	).Bind(dbx.Params{"id": ticketID}).WithContext(tx.ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapInfra("load active purchase", err)
	}

	p := &models.Purchase{
		ID:          row.ID,
		TicketID:    row.TicketID,
		BuyerID:     row.BuyerID,
		SellerID:    row.SellerID,
		PurchasedAt: parseTime(row.PurchasedAt),
	}
	if row.SupersededAt.Valid {
		at := parseTime(row.SupersededAt.String)
		p.SupersededAt = &at
	}
	return p, nil
}

func (tx *sqlTx) InsertPurchase(p *models.Purchase) error {
	params := dbx.Params{
		"id":            p.ID,
		"ticket_id":     p.TicketID,
		"buyer_id":      p.BuyerID,
		"seller_id":     p.SellerID,
		"purchased_at":  p.PurchasedAt.UTC().Format(time.RFC3339Nano),
		"superseded_at": nil,
	}
	if p.SupersededAt != nil {
		params["superseded_at"] = p.SupersededAt.UTC().Format(time.RFC3339Nano)
	}
	if _, err := tx.db.Insert("purchases", params).WithContext(tx.ctx).Execute(); err != nil {
		return wrapInfra("insert purchase", err)
	}
	return nil
}

func (tx *sqlTx) SupersedePurchase(purchaseID string, at time.Time) error {
	result, err := tx.db.NewQuery(
		`UPDATE purchases SET superseded_at = {:at} WHERE id = {:id} AND superseded_at IS NULL`,
	).Bind(dbx.Params{
		"at": at.UTC().Format(time.RFC3339Nano),
		"id": purchaseID,
	}).WithContext(tx.ctx).Execute()
	if err != nil {
		return wrapInfra("supersede purchase", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return status.ErrConflict
	}
	return nil
}

func (tx *sqlTx) InsertPayment(p *models.Payment) error {
	_, err := tx.db.Insert("payments", dbx.Params{
		"id":                p.ID,
		"purchase_id":       p.PurchaseID,
		"amount":            p.Amount.String(),
		"method":            p.Method,
		"instrument_digest": p.InstrumentDigest,
		"instrument_masked": p.InstrumentMasked,
		"paid_at":           p.PaidAt.UTC().Format(time.RFC3339Nano),
	}).WithContext(tx.ctx).Execute()
	if err != nil {
		return wrapInfra("insert payment", err)
	}
	return nil
}

type provenanceRow struct {
	ID             string `db:"id"`
	TicketID       string `db:"ticket_id"`
	DocumentRef    string `db:"document_ref"`
	IssuedToUserID string `db:"issued_to_user_id"`
	IssuedAt       string `db:"issued_at"`
	IsCurrent      int    `db:"is_current"`
}

func (tx *sqlTx) CurrentProvenance(ticketID string) (*models.ProvenanceEntry, error) {
	var row provenanceRow
	err := tx.db.NewQuery(
		`SELECT id, ticket_id, document_ref, issued_to_user_id, issued_at, is_current
		 FROM provenance_entries WHERE ticket_id = {:id} AND is_current = 1`,
	).Bind(dbx.Params{"id": ticketID}).WithContext(tx.ctx).One(&row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapInfra("load current provenance", err)
	}
	return &models.ProvenanceEntry{
		ID:             row.ID,
		TicketID:       row.TicketID,
		DocumentRef:    row.DocumentRef,
		IssuedToUserID: row.IssuedToUserID,
		IssuedAt:       parseTime(row.IssuedAt),
		IsCurrent:      row.IsCurrent == 1,
	}, nil
}

func (tx *sqlTx) SupersedeProvenance(ticketID string) error {
	_, err := tx.db.NewQuery(
		`UPDATE provenance_entries SET is_current = 0 WHERE ticket_id = {:id} AND is_current = 1`,
	).Bind(dbx.Params{"id": ticketID}).WithContext(tx.ctx).Execute()
	if err != nil {
		return wrapInfra("supersede provenance", err)
	}
	return nil
}

func (tx *sqlTx) InsertProvenance(e *models.ProvenanceEntry) error {
	isCurrent := 0
	if e.IsCurrent {
		isCurrent = 1
	}
	_, err := tx.db.Insert("provenance_entries", dbx.Params{
		"id":                e.ID,
		"ticket_id":         e.TicketID,
		"document_ref":      e.DocumentRef,
		"issued_to_user_id": e.IssuedToUserID,
		"issued_at":         e.IssuedAt.UTC().Format(time.RFC3339Nano),
		"is_current":        isCurrent,
	}).WithContext(tx.ctx).Execute()
	if err != nil {
		return wrapInfra("insert provenance", err)
	}
	return nil
}

func wrapInfra(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", status.ErrStorageFailure, op, err)
}

// classify normalizes the error leaving a transaction: domain and
// already-wrapped errors pass through, deadline hits become ErrTimeout,
// anything else (begin/commit failures) becomes ErrStorageFailure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", status.ErrTimeout, err)
	}
	for _, known := range []error{
		status.ErrTicketNotFound, status.ErrAlreadySold, status.ErrTicketWithdrawn,
		status.ErrSelfPurchase, status.ErrEventElapsed, status.ErrEventNotFound,
		status.ErrPaymentInvalid, status.ErrInvalidPrice, status.ErrMissingDocument,
		status.ErrNotOwner, status.ErrNotCurrentlySold, status.ErrHasActivePurchase,
		status.ErrConflict, status.ErrStorageFailure, status.ErrTimeout,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", status.ErrStorageFailure, err)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
