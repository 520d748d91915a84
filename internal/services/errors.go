package services

import (
	"errors"
	"fmt"
)

var (
	ErrAccountUnavailable = errors.New("account unavailable")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrDailyLimitExceeded = errors.New("daily limit exceeded")
	ErrInvalidDestination = errors.New("invalid destination account")
	ErrRecordNotFound     = errors.New("record not found")
	ErrAlreadyPaid        = errors.New("bill already paid")
	ErrNotRestorable      = errors.New("record is not restorable")

	ErrForbidden      = errors.New("forbidden")
	ErrInvalidRequest = errors.New("invalid request")
	ErrInvalidState   = errors.New("invalid state transition")
	ErrBillCancelled  = errors.New("bill cancelled")
	ErrConflict       = errors.New("record already exists")
)

// TransactionError ties a typed failure to the operation and account it hit.
type TransactionError struct {
	Op        string
	AccountID string
	Err       error
	Detail    string
}

func (e *TransactionError) Error() string {
	msg := e.Op
	if e.AccountID != "" {
		msg += " " + e.AccountID
	}
	msg += ": " + e.Err.Error()
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func txError(op, accountID string, err error, format string, args ...any) error {
	te := &TransactionError{Op: op, AccountID: accountID, Err: err}
	if format != "" {
		te.Detail = fmt.Sprintf(format, args...)
	}
	return te
}

// ErrorCode returns a stable machine-readable code for typed errors.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrAccountUnavailable):
		return "ACCOUNT_UNAVAILABLE"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrDailyLimitExceeded):
		return "DAILY_LIMIT_EXCEEDED"
	case errors.Is(err, ErrInvalidDestination):
		return "INVALID_DESTINATION"
	case errors.Is(err, ErrRecordNotFound):
		return "RECORD_NOT_FOUND"
	case errors.Is(err, ErrAlreadyPaid):
		return "ALREADY_PAID"
	case errors.Is(err, ErrNotRestorable):
		return "NOT_RESTORABLE"
	case errors.Is(err, ErrForbidden):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrBillCancelled):
		return "BILL_CANCELLED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	}
	return "INTERNAL"
}
