package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TicketStatus is the sale state of a ticket.
type TicketStatus string

const (
	TicketAvailable TicketStatus = "available"
	TicketHeld      TicketStatus = "held" // claimed by a pending purchase, payment not settled yet
	TicketSold      TicketStatus = "sold"
)

// Valid reports whether s is one of the known ticket statuses.
func (s TicketStatus) Valid() bool {
	switch s {
	case TicketAvailable, TicketHeld, TicketSold:
		return true
	}
	return false
}

// Ticket is a single admission unit of an event.  Tickets are
// created by partners when they publish an event; the purchase
// workflow is the only code path that changes their status.
//
// Fields:
//  ID        – primary key identifier.
//  Location  – location label printed on the ticket.
//  EventID   – event the ticket belongs to.
//  Price     – positive monetary amount.
//  Status    – available, held or sold.
//  CreatedAt – creation timestamp.
type Ticket struct {
	ID        uint64          `json:"id"`         // tickets.id
	Location  string          `json:"location"`   // tickets.location
	EventID   uint64          `json:"event_id"`   // tickets.event_id
	Price     decimal.Decimal `json:"price"`      // tickets.price DECIMAL(10,2)
	Status    TicketStatus    `json:"status"`     // tickets.status
	CreatedAt time.Time       `json:"created_at"` // tickets.created_at
}

// NewTicket builds a Ticket from every column of a tickets row.
func NewTicket(id uint64, location string, eventID uint64, price decimal.Decimal, status TicketStatus, createdAt time.Time) Ticket {
	return Ticket{
		ID:        id,
		Location:  location,
		EventID:   eventID,
		Price:     price,
		Status:    status,
		CreatedAt: createdAt,
	}
}

// SumPrices adds the prices of the given tickets using decimal
// arithmetic.  An empty slice sums to zero.
func SumPrices(tickets []Ticket) decimal.Decimal {
	total := decimal.Zero
	for _, t := range tickets {
		total = total.Add(t.Price)
	}
	return total
}
