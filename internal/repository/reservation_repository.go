package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/model"
)

// ReservationRepo is the reservation ledger: an append-only record
// of which customer claimed which ticket and when.
type ReservationRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo {
	return &ReservationRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// ReserveTx appends a reservation for one ticket inside tx.
func (r *ReservationRepo) ReserveTx(ctx context.Context, tx database.Tx, customerID, ticketID uint64, status model.ReservationStatus) (*model.Reservation, error) {
	const q = `INSERT INTO reservation_tickets (customer_id, ticket_id, reservation_date, status) VALUES (?, ?, ?, ?)`
	at := r.now().Truncate(time.Second)
	res, err := tx.ExecContext(ctx, q, customerID, ticketID, at, string(status))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &model.Reservation{
		ID:              uint64(id),
		CustomerID:      customerID,
		TicketID:        ticketID,
		ReservationDate: at,
		Status:          status,
	}, nil
}

// ListByCustomer returns every reservation of a customer, newest first.
func (r *ReservationRepo) ListByCustomer(ctx context.Context, customerID uint64) ([]model.Reservation, error) {
	const q = `SELECT id, customer_id, ticket_id, reservation_date, status
		FROM reservation_tickets WHERE customer_id = ? ORDER BY reservation_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Reservation, 0)
	for rows.Next() {
		var (
			res    model.Reservation
			status string
		)
		if err := rows.Scan(&res.ID, &res.CustomerID, &res.TicketID, &res.ReservationDate, &status); err != nil {
			return nil, err
		}
		res.Status = model.ReservationStatus(status)
		out = append(out, res)
	}
	return out, rows.Err()
}
