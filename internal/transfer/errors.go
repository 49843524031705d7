package transfer

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
)

// Kind classifies a rejected transfer.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindConflict          Kind = "conflict"
	KindState             Kind = "state"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindTransientStorage  Kind = "transient_storage"
	KindInternal          Kind = "internal"
)

// Machine readable reasons returned to callers.
const (
	ReasonInvalidRequest         = "INVALID_REQUEST"
	ReasonSameAccount            = "SAME_ACCOUNT"
	ReasonAccountNotFound        = "ACCOUNT_NOT_FOUND"
	ReasonSystemAccountNotFound  = "SYSTEM_ACCOUNT_NOT_FOUND"
	ReasonTransactionNotFound    = "TRANSACTION_NOT_FOUND"
	ReasonNotAccountOwner        = "NOT_ACCOUNT_OWNER"
	ReasonSystemUserRequired     = "SYSTEM_USER_REQUIRED"
	ReasonTransferProcessing     = "TRANSFER_PROCESSING"
	ReasonIdempotencyKeyFailed   = "IDEMPOTENCY_KEY_FAILED"
	ReasonIdempotencyKeyReversed = "IDEMPOTENCY_KEY_REVERSED"
	ReasonAccountInactive        = "ACCOUNT_INACTIVE"
	ReasonInsufficientFunds      = "INSUFFICIENT_FUNDS"
	ReasonTransferPending        = "TRANSFER_PENDING"
	ReasonInternal               = "INTERNAL"
)

// Error is the only error type the engine returns. Message is safe to show
// to the caller; Err keeps the underlying cause for logs.
type Error struct {
	Kind      Kind
	Reason    string
	Message   string
	Shortfall decimal.Decimal
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus is the outcome code for the error kind.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindState, KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindTransientStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// AsError extracts an *Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsReason reports whether err is an engine error carrying reason.
func IsReason(err error, reason string) bool {
	e, ok := AsError(err)
	return ok && e.Reason == reason
}

func newError(kind Kind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

func invalid(message string) *Error {
	return newError(KindValidation, ReasonInvalidRequest, message)
}

func internal(err error) *Error {
	return &Error{Kind: KindInternal, Reason: ReasonInternal, Message: "internal error", Err: err}
}

func transient(err error) *Error {
	return &Error{
		Kind:    KindTransientStorage,
		Reason:  ReasonTransferPending,
		Message: "transfer could not be completed right now, retry later with the same idempotency key",
		Err:     err,
	}
}

func insufficientFunds(shortfall decimal.Decimal) *Error {
	return &Error{
		Kind:      KindInsufficientFunds,
		Reason:    ReasonInsufficientFunds,
		Message:   fmt.Sprintf("insufficient funds, short by %s", shortfall.String()),
		Shortfall: shortfall,
	}
}
