// Package queue publishes and consumes purchase events over RabbitMQ.
package queue

// PurchasePaidEvent is published when a purchase is settled.  It
// carries enough information for downstream consumers to log,
// notify or trigger analytics without querying the primary database.
type PurchasePaidEvent struct {
	PurchaseID  uint64   `json:"purchase_id"`
	CustomerID  uint64   `json:"customer_id"`
	TicketIDs   []uint64 `json:"ticket_ids"`
	TotalAmount string   `json:"total_amount"` // decimal string, e.g. "80.00"
	PaymentRef  string   `json:"payment_ref"`
	PaidAt      string   `json:"paid_at"` // RFC3339, UTC
}
