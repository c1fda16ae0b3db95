package service

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Domain error kinds. Handlers map these to HTTP status codes with errors.Is.
var (
	ErrNotFound               = errors.New("not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrRegisterClosed         = errors.New("no open cash register session")
	ErrPaymentMismatch        = errors.New("payment legs do not match the sale total")
	ErrInvalidIndex           = errors.New("invalid item index")
	ErrExceedsAvailable       = errors.New("refund quantity exceeds available quantity")
	ErrAlreadyOpen            = errors.New("a cash register session is already open")
	ErrNotOpen                = errors.New("cash register session is not open")
	ErrInvalidAmount          = errors.New("amount must be greater than zero")
	ErrInvalidInput           = errors.New("invalid input")
	ErrConcurrentModification = errors.New("concurrent modification, retry the request")
	ErrIdempotencyKeyReused   = errors.New("idempotency key already used for a different request")
)

// InsufficientStockError identifies the product and what was available.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Name      string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.Name, e.Available, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// PaymentMismatchError carries both figures of a mixed payment check.
type PaymentMismatchError struct {
	Expected decimal.Decimal
	Received decimal.Decimal
	Reason   string
}

func (e *PaymentMismatchError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("payment mismatch: %s", e.Reason)
	}
	return fmt.Sprintf("payment mismatch: legs sum to %s, total is %s", e.Received.StringFixed(2), e.Expected.StringFixed(2))
}

func (e *PaymentMismatchError) Unwrap() error { return ErrPaymentMismatch }

// RefundLineError identifies the offending line of an itemized refund.
type RefundLineError struct {
	Index     int
	Available int
	Requested int
	kind      error
}

func (e *RefundLineError) Error() string {
	if e.kind == ErrInvalidIndex {
		return fmt.Sprintf("item index %d does not exist", e.Index)
	}
	return fmt.Sprintf("item %d: requested %d, only %d available to refund", e.Index, e.Requested, e.Available)
}

func (e *RefundLineError) Unwrap() error { return e.kind }

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
