package model

import "time"

// ReservationStatus is the state of a customer's claim on a ticket.
type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation records that a customer claimed a ticket.  It is kept
// apart from the purchase so that audit queries do not need to join
// through the monetary record.  Rows are append-only.
//
// Fields:
//  ID              – primary key identifier.
//  CustomerID      – customer who claimed the ticket.
//  TicketID        – claimed ticket.
//  ReservationDate – when the claim was recorded.
//  Status          – reserved or cancelled.
type Reservation struct {
	ID              uint64            `json:"id"`               // reservation_tickets.id
	CustomerID      uint64            `json:"customer_id"`      // reservation_tickets.customer_id
	TicketID        uint64            `json:"ticket_id"`        // reservation_tickets.ticket_id
	ReservationDate time.Time         `json:"reservation_date"` // reservation_tickets.reservation_date
	Status          ReservationStatus `json:"status"`           // reservation_tickets.status
}
