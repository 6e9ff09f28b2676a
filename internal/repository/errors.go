// Package repository holds the MySQL data access layer.  The
// sentinel values below let the service and handler layers tell
// failure scenarios apart with errors.Is.
package repository

import "errors"

// ErrConflict is returned when a conditional status transition
// matched no row, i.e. the row was no longer in the expected state.
var ErrConflict = errors.New("conflict")

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrPurchaseNotFound = errors.New("purchase not found")
	ErrCustomerNotFound = errors.New("customer not found")
)
