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

const purchaseColumns = `id, purchase_date, total_amount, status, customer_id, payment_ref`

// PurchaseRepo persists purchase headers and their ticket
// associations.  Writes always happen on a caller supplied
// transaction; the purchase header and its associations must commit
// together.
type PurchaseRepo struct {
	db *sql.DB
}

// NewPurchaseRepo returns a new PurchaseRepo bound to the given database.
func NewPurchaseRepo(db *sql.DB) *PurchaseRepo { return &PurchaseRepo{db: db} }

func scanPurchase(s scanner) (model.Purchase, error) {
	var (
		p          model.Purchase
		status     string
		total      decimal.Decimal
		paymentRef sql.NullString
	)
	if err := s.Scan(&p.ID, &p.PurchaseDate, &total, &status, &p.CustomerID, &paymentRef); err != nil {
		return model.Purchase{}, err
	}
	p.TotalAmount = total
	p.Status = model.PurchaseStatus(status)
	if paymentRef.Valid {
		ref := paymentRef.String
		p.PaymentRef = &ref
	}
	return p, nil
}

// CreateTx inserts a new purchase within the scope of an existing
// transaction and populates the generated ID on p.
func (r *PurchaseRepo) CreateTx(ctx context.Context, tx database.Tx, p *model.Purchase) error {
	const q = `INSERT INTO purchases (purchase_date, total_amount, status, customer_id) VALUES (?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, q, p.PurchaseDate, p.TotalAmount, string(p.Status), p.CustomerID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// CreateTicketsBulkTx inserts one purchase_tickets row per ticket in
// a single statement.  Passing no tickets has no effect.
func (r *PurchaseRepo) CreateTicketsBulkTx(ctx context.Context, tx database.Tx, purchaseID uint64, ticketIDs []uint64) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	query := `INSERT INTO purchase_tickets (purchase_id, ticket_id) VALUES `
	args := make([]any, 0, len(ticketIDs)*2)
	for i, tid := range ticketIDs {
		if i > 0 {
			query += ", "
		}
		query += "(?, ?)"
		args = append(args, purchaseID, tid)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// TicketIDsTx lists the tickets associated with a purchase.
func (r *PurchaseRepo) TicketIDsTx(ctx context.Context, tx database.Tx, purchaseID uint64) ([]uint64, error) {
	const q = `SELECT ticket_id FROM purchase_tickets WHERE purchase_id = ? ORDER BY ticket_id`
	rows, err := tx.QueryContext(ctx, q, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]uint64, 0)
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// LockTx reads a purchase with FOR UPDATE.  Settlement and the hold
// sweeper both lock the header first, so at most one of them acts on
// a given pending purchase.
func (r *PurchaseRepo) LockTx(ctx context.Context, tx database.Tx, id uint64) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = ? FOR UPDATE`
	p, err := scanPurchase(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	return &p, nil
}

// UpdateStatusTx moves a purchase from one status to another.  A nil
// paymentRef leaves the stored reference untouched.  ErrConflict is
// returned when the purchase is not in from.
func (r *PurchaseRepo) UpdateStatusTx(ctx context.Context, tx database.Tx, id uint64, from, to model.PurchaseStatus, paymentRef *string) error {
	const q = `UPDATE purchases SET status = ?, payment_ref = COALESCE(?, payment_ref) WHERE id = ? AND status = ?`
	var ref any
	if paymentRef != nil {
		ref = *paymentRef
	}
	res, err := tx.ExecContext(ctx, q, string(to), ref, id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("purchase %d is not %s: %w", id, from, ErrConflict)
	}
	return nil
}

// RecordChargeTx stores the payment reference of a charge on a
// purchase that is still pending.  The hold sweeper completes such
// purchases instead of cancelling them.
func (r *PurchaseRepo) RecordChargeTx(ctx context.Context, tx database.Tx, id uint64, paymentRef string) error {
	const q = `UPDATE purchases SET payment_ref = ? WHERE id = ? AND status = ? AND payment_ref IS NULL`
	res, err := tx.ExecContext(ctx, q, paymentRef, id, string(model.PurchasePending))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("purchase %d is not pending without a charge: %w", id, ErrConflict)
	}
	return nil
}

// ExpiredPendingTx locks up to limit purchases that are still
// pending and were created before the cutoff.  Rows already locked
// by an in-flight settlement are skipped rather than waited for.
func (r *PurchaseRepo) ExpiredPendingTx(ctx context.Context, tx database.Tx, before time.Time, limit int) ([]model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases
		WHERE status = ? AND purchase_date < ?
		ORDER BY id
		LIMIT ?
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, q, string(model.PurchasePending), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Purchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetByID returns a purchase or ErrPurchaseNotFound.
func (r *PurchaseRepo) GetByID(ctx context.Context, id uint64) (*model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE id = ?`
	p, err := scanPurchase(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPurchaseNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListByCustomer returns a customer's purchases, newest first.
func (r *PurchaseRepo) ListByCustomer(ctx context.Context, customerID uint64) ([]model.Purchase, error) {
	q := `SELECT ` + purchaseColumns + ` FROM purchases WHERE customer_id = ? ORDER BY purchase_date DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Purchase, 0)
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
