package service

import (
	"errors"
	"fmt"
)

// Failure taxonomy of the purchase workflow.  Handlers translate
// these into HTTP status codes with errors.Is.
var (
	ErrInvalidPurchase    = errors.New("invalid purchase request")
	ErrCustomerNotFound   = errors.New("customer not found")
	ErrTicketsNotFound    = errors.New("one or more tickets not found")
	ErrTicketsUnavailable = errors.New("some tickets are not available")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrPaymentTimeout     = errors.New("payment timed out")
	ErrPaymentUnavailable = errors.New("payment gateway unavailable")
	ErrPersistence        = errors.New("persistence error")
	ErrPurchaseNotFound   = errors.New("purchase not found")
)

// TicketsError names the tickets behind ErrTicketsNotFound or
// ErrTicketsUnavailable.
type TicketsError struct {
	Kind error
	IDs  []uint64
}

func (e *TicketsError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.IDs)
}

func (e *TicketsError) Unwrap() error { return e.Kind }

func persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
