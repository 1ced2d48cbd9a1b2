package status

import "errors"

// Domain errors surfaced by the lifecycle engine. Callers match these with
// errors.Is and map them to user-facing responses.
var (
	ErrTicketNotFound    = errors.New("ticket: not found")
	ErrAlreadySold       = errors.New("ticket: already sold")
	ErrTicketWithdrawn   = errors.New("ticket: withdrawn from sale")
	ErrSelfPurchase      = errors.New("purchase: buyer already owns this ticket")
	ErrEventElapsed      = errors.New("event: start time has passed")
	ErrEventNotFound     = errors.New("event: not found")
	ErrPaymentInvalid    = errors.New("payment: amount mismatch or malformed instrument")
	ErrInvalidPrice      = errors.New("ticket: price must be greater than zero")
	ErrMissingDocument   = errors.New("document: payload is empty")
	ErrNotOwner          = errors.New("ticket: caller is not the current owner")
	ErrNotCurrentlySold  = errors.New("resell: ticket has no completed sale")
	ErrHasActivePurchase = errors.New("withdraw: ticket has an active purchase")
)

// Infrastructure errors. The ledger transaction is always rolled back in
// full before one of these is returned.
var (
	ErrConflict       = errors.New("ledger: concurrent update conflict")
	ErrStorageFailure = errors.New("storage: operation failed")
	ErrTimeout        = errors.New("storage: transaction timed out")
)
