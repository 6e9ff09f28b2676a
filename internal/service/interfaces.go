package service

import (
	"context"
	"time"

	"github.com/iliyamo/ticket-marketplace/internal/database"
	"github.com/iliyamo/ticket-marketplace/internal/model"
	"github.com/iliyamo/ticket-marketplace/internal/queue"
)

// TicketInventory is the authoritative record of ticket sale state.
type TicketInventory interface {
	FindMany(ctx context.Context, ids []uint64) ([]model.Ticket, error)
	LockManyTx(ctx context.Context, tx database.Tx, ids []uint64) ([]model.Ticket, error)
	TransitionTx(ctx context.Context, tx database.Tx, ids []uint64, from, to model.TicketStatus) (int64, error)
}

// PurchaseStore persists purchase headers and ticket associations.
type PurchaseStore interface {
	CreateTx(ctx context.Context, tx database.Tx, p *model.Purchase) error
	CreateTicketsBulkTx(ctx context.Context, tx database.Tx, purchaseID uint64, ticketIDs []uint64) error
	TicketIDsTx(ctx context.Context, tx database.Tx, purchaseID uint64) ([]uint64, error)
	LockTx(ctx context.Context, tx database.Tx, id uint64) (*model.Purchase, error)
	UpdateStatusTx(ctx context.Context, tx database.Tx, id uint64, from, to model.PurchaseStatus, paymentRef *string) error
	RecordChargeTx(ctx context.Context, tx database.Tx, id uint64, paymentRef string) error
	ExpiredPendingTx(ctx context.Context, tx database.Tx, before time.Time, limit int) ([]model.Purchase, error)
	GetByID(ctx context.Context, id uint64) (*model.Purchase, error)
	ListByCustomer(ctx context.Context, customerID uint64) ([]model.Purchase, error)
}

// ReservationLedger records customer claims on tickets.
type ReservationLedger interface {
	ReserveTx(ctx context.Context, tx database.Tx, customerID, ticketID uint64, status model.ReservationStatus) (*model.Reservation, error)
	ListByCustomer(ctx context.Context, customerID uint64) ([]model.Reservation, error)
}

// CustomerDirectory resolves customers and their billing contact.
type CustomerDirectory interface {
	FindByID(ctx context.Context, id uint64) (*model.Customer, error)
}

// EventPublisher announces settled purchases.
type EventPublisher interface {
	PublishPurchasePaid(ctx context.Context, ev queue.PurchasePaidEvent) error
}
