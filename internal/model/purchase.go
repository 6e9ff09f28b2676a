package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseStatus is the lifecycle state of a purchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchasePaid      PurchaseStatus = "paid"
	PurchaseError     PurchaseStatus = "error"     // payment declined or settlement failed before charging
	PurchaseCancelled PurchaseStatus = "cancelled" // payment timed out or the hold expired
)

// Terminal reports whether no further transition is expected from s.
func (s PurchaseStatus) Terminal() bool {
	return s == PurchasePaid || s == PurchaseError || s == PurchaseCancelled
}

// Purchase is the monetary header that groups one or more tickets
// bought by a single customer.  TotalAmount is fixed when the
// purchase is created and equals the sum of the associated ticket
// prices at that time.
//
// Fields:
//  ID           – primary key identifier.
//  PurchaseDate – when the purchase was created.
//  TotalAmount  – sum of the ticket prices.
//  Status       – pending, paid, error or cancelled.
//  CustomerID   – owning customer.
//  PaymentRef   – gateway reference once the charge succeeded.
type Purchase struct {
	ID           uint64          `json:"id"`            // purchases.id
	PurchaseDate time.Time       `json:"purchase_date"` // purchases.purchase_date
	TotalAmount  decimal.Decimal `json:"total_amount"`  // purchases.total_amount DECIMAL(10,2)
	Status       PurchaseStatus  `json:"status"`        // purchases.status
	CustomerID   uint64          `json:"customer_id"`   // purchases.customer_id
	PaymentRef   *string         `json:"-"`             // purchases.payment_ref (nullable)
}

// NewPendingPurchase returns a purchase header that has not been
// persisted yet.  The ID is assigned by the repository on insert.
func NewPendingPurchase(customerID uint64, total decimal.Decimal, at time.Time) *Purchase {
	return &Purchase{
		PurchaseDate: at,
		TotalAmount:  total,
		Status:       PurchasePending,
		CustomerID:   customerID,
	}
}

// PurchaseTicket associates a purchase with one of its tickets.
type PurchaseTicket struct {
	ID         uint64 // purchase_tickets.id
	PurchaseID uint64 // purchase_tickets.purchase_id
	TicketID   uint64 // purchase_tickets.ticket_id
}
