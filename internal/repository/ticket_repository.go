package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/model"
)

const ticketColumns = `id, location, event_id, price, status, created_at`

// TicketRepo is the ticket inventory.  Reads outside a purchase use
// the pool; everything that decides or changes availability runs on
// the transaction handed in by the caller.
type TicketRepo struct {
	db *sql.DB
}

// NewTicketRepo constructs a TicketRepo given a DB handle.
func NewTicketRepo(db *sql.DB) *TicketRepo {
	return &TicketRepo{db: db}
}

func scanTicket(s scanner) (model.Ticket, error) {
	var (
		id, eventID uint64
		location    string
		price       decimal.Decimal
		status      string
		createdAt   time.Time
	)
	if err := s.Scan(&id, &location, &eventID, &price, &status, &createdAt); err != nil {
		return model.Ticket{}, err
	}
	st := model.TicketStatus(status)
	if !st.Valid() {
		return model.Ticket{}, fmt.Errorf("ticket %d has unknown status %q", id, status)
	}
	return model.NewTicket(id, location, eventID, price, st, createdAt), nil
}

func collectTickets(rows *sql.Rows) ([]model.Ticket, error) {
	defer rows.Close()
	out := make([]model.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// FindMany returns every ticket whose id is in ids regardless of its
// status.  Unknown ids are simply absent from the result; callers
// compare cardinality themselves.
func (r *TicketRepo) FindMany(ctx context.Context, ids []uint64) ([]model.Ticket, error) {
	if len(ids) == 0 {
		return []model.Ticket{}, nil
	}
	in, args := inClause(ids)
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE id IN (` + in + `) ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// LockManyTx reads the tickets with FOR UPDATE so that no other
// transaction can change their status until tx ends.  Rows are
// locked in primary key order.
func (r *TicketRepo) LockManyTx(ctx context.Context, tx database.Tx, ids []uint64) ([]model.Ticket, error) {
	if len(ids) == 0 {
		return []model.Ticket{}, nil
	}
	in, args := inClause(ids)
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE id IN (` + in + `) ORDER BY id FOR UPDATE`
	rows, err := tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

// TransitionTx moves the given tickets from one status to another
// and returns how many rows changed.  Only rows currently in from
// are touched, so a caller that gets fewer affected rows than ids
// lost a race for some of them.
func (r *TicketRepo) TransitionTx(ctx context.Context, tx database.Tx, ids []uint64, from, to model.TicketStatus) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	in, idArgs := inClause(ids)
	q := `UPDATE tickets SET status = ? WHERE id IN (` + in + `) AND status = ?`
	args := make([]any, 0, len(idArgs)+2)
	args = append(args, string(to))
	args = append(args, idArgs...)
	args = append(args, string(from))
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetByID returns a single ticket or ErrTicketNotFound.
func (r *TicketRepo) GetByID(ctx context.Context, id uint64) (*model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = ?`
	t, err := scanTicket(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTicketNotFound
		}
		return nil, err
	}
	return &t, nil
}

// ListByEvent returns the tickets of an event ordered by id.  An
// event without tickets yields an empty slice.
func (r *TicketRepo) ListByEvent(ctx context.Context, eventID uint64) ([]model.Ticket, error) {
	q := `SELECT ` + ticketColumns + ` FROM tickets WHERE event_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}
