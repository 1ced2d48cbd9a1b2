package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/apis"
	"github.com/pocketbase/pocketbase/core"
	"github.com/shopspring/decimal"

	"resale-market/internal/docstore"
	"resale-market/internal/engine"
	"resale-market/internal/status"
	"resale-market/models"
)

const maxDocumentSize = 5 << 20 // 5MB

type TicketHandler struct {
	app    *pocketbase.PocketBase
	engine *engine.Engine
}

func NewTicketHandler(app *pocketbase.PocketBase, eng *engine.Engine) *TicketHandler {
	return &TicketHandler{
		app:    app,
		engine: eng,
	}
}

// ListForSale - Create a listing from a multipart form (event_id, price,
// document file)
func (h *TicketHandler) ListForSale(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	price, err := decimal.NewFromString(e.Request.FormValue("price"))
	if err != nil {
		return apis.NewBadRequestError("Invalid price", err)
	}
	eventID := e.Request.FormValue("event_id")
	if eventID == "" {
		return apis.NewBadRequestError("Missing event_id", nil)
	}

	document, err := readDocument(e)
	if err != nil {
		return apis.NewBadRequestError("Invalid document upload", err)
	}

	ticket, err := h.engine.ListForSale(e.Request.Context(), e.Auth.Id, eventID, price, document)
	if err != nil {
		return mapDomainError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// Purchase - Buy a listed ticket
func (h *TicketHandler) Purchase(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	var req struct {
		Method     string          `json:"method"`
		Instrument string          `json:"instrument"`
		Amount     decimal.Decimal `json:"amount"`
	}
	if err := e.BindBody(&req); err != nil {
		return apis.NewBadRequestError("Invalid request", err)
	}

	receipt, err := h.engine.Purchase(e.Request.Context(), e.Request.PathValue("ticketId"), e.Auth.Id, models.PaymentDetails{
		Method:     req.Method,
		Instrument: req.Instrument,
		Amount:     req.Amount,
	})
	if err != nil {
		return mapDomainError(err)
	}

	return e.JSON(http.StatusOK, receipt)
}

// Resell - Re-list an owned ticket from a multipart form (price, document
// file)
func (h *TicketHandler) Resell(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	price, err := decimal.NewFromString(e.Request.FormValue("price"))
	if err != nil {
		return apis.NewBadRequestError("Invalid price", err)
	}

	document, err := readDocument(e)
	if err != nil {
		return apis.NewBadRequestError("Invalid document upload", err)
	}

	ticket, err := h.engine.Resell(e.Request.Context(), e.Request.PathValue("ticketId"), e.Auth.Id, price, document)
	if err != nil {
		return mapDomainError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// Withdraw - Take an owned listing off the market
func (h *TicketHandler) Withdraw(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	ticket, err := h.engine.Withdraw(e.Request.Context(), e.Request.PathValue("ticketId"), e.Auth.Id)
	if err != nil {
		return mapDomainError(err)
	}

	return e.JSON(http.StatusOK, ticket)
}

// ListAvailable - Browse listed tickets for upcoming events
func (h *TicketHandler) ListAvailable(e *core.RequestEvent) error {
	filter := models.ListFilter{
		EventID: e.Request.URL.Query().Get("event_id"),
	}
	if raw := e.Request.URL.Query().Get("min_price"); raw != "" {
		min, err := decimal.NewFromString(raw)
		if err != nil {
			return apis.NewBadRequestError("Invalid min_price", err)
		}
		filter.MinPrice = &min
	}
	if raw := e.Request.URL.Query().Get("max_price"); raw != "" {
		max, err := decimal.NewFromString(raw)
		if err != nil {
			return apis.NewBadRequestError("Invalid max_price", err)
		}
		filter.MaxPrice = &max
	}

	tickets, err := h.engine.ListAvailable(e.Request.Context(), filter)
	if err != nil {
		return mapDomainError(err)
	}

	return e.JSON(http.StatusOK, tickets)
}

// Document - Download the caller's current proof-of-ticket document
func (h *TicketHandler) Document(e *core.RequestEvent) error {
	if e.Auth == nil {
		return apis.NewUnauthorizedError("Unauthorized", nil)
	}

	data, err := h.engine.Document(e.Request.Context(), e.Request.PathValue("ticketId"), e.Auth.Id)
	if err != nil {
		if errors.Is(err, docstore.ErrDocumentNotFound) {
			return apis.NewNotFoundError("Document not ready", err)
		}
		return mapDomainError(err)
	}

	return e.Blob(http.StatusOK, "application/octet-stream", data)
}

func readDocument(e *core.RequestEvent) ([]byte, error) {
	file, _, err := e.Request.FormFile("document")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(io.LimitReader(file, maxDocumentSize))
}

// mapDomainError translates engine errors into API responses without string
// matching.
func mapDomainError(err error) error {
	switch {
	case errors.Is(err, status.ErrTicketNotFound),
		errors.Is(err, status.ErrEventNotFound):
		return apis.NewNotFoundError(err.Error(), err)
	case errors.Is(err, status.ErrNotOwner):
		return apis.NewForbiddenError(err.Error(), err)
	case errors.Is(err, status.ErrAlreadySold),
		errors.Is(err, status.ErrTicketWithdrawn),
		errors.Is(err, status.ErrSelfPurchase),
		errors.Is(err, status.ErrEventElapsed),
		errors.Is(err, status.ErrPaymentInvalid),
		errors.Is(err, status.ErrInvalidPrice),
		errors.Is(err, status.ErrMissingDocument),
		errors.Is(err, status.ErrNotCurrentlySold),
		errors.Is(err, status.ErrHasActivePurchase):
		return apis.NewBadRequestError(err.Error(), err)
	case errors.Is(err, status.ErrTimeout),
		errors.Is(err, status.ErrStorageFailure):
		return apis.NewApiError(http.StatusServiceUnavailable, "Storage temporarily unavailable", err)
	default:
		return apis.NewApiError(http.StatusInternalServerError, "Something went wrong", err)
	}
}
