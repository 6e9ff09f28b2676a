package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/iliyamo/ticket-marketplace/internal/model"
)

const customerSelect = `SELECT c.id, c.address, c.phone, c.user_id, c.created_at, u.id, u.name, u.email
	FROM customers c JOIN users u ON u.id = c.user_id`

// CustomerRepo is a read-only view of the customer directory.
type CustomerRepo struct {
	DB *sql.DB
}

// NewCustomerRepo constructs a CustomerRepo given a DB handle.
func NewCustomerRepo(db *sql.DB) *CustomerRepo { return &CustomerRepo{DB: db} }

func (r *CustomerRepo) findOne(ctx context.Context, where string, arg uint64) (*model.Customer, error) {
	var c model.Customer
	err := r.DB.QueryRowContext(ctx, customerSelect+` WHERE `+where, arg).Scan(
		&c.ID, &c.Address, &c.Phone, &c.UserID, &c.CreatedAt, &c.User.ID, &c.User.Name, &c.User.Email,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindByID loads a customer with the linked user's name and email.
func (r *CustomerRepo) FindByID(ctx context.Context, id uint64) (*model.Customer, error) {
	return r.findOne(ctx, `c.id = ?`, id)
}

// FindByUserID maps an authenticated user to their customer record.
func (r *CustomerRepo) FindByUserID(ctx context.Context, userID uint64) (*model.Customer, error) {
	return r.findOne(ctx, `c.user_id = ?`, userID)
}
